package model

import (
	"fmt"
	"time"
)

type (
	ApplicationID = string
	SessionID     = string
	TaskID        = int64
	ExecutorID    = string
)

// Shim identifies the protocol an executor uses to drive the hosted service.
type Shim int

const (
	ShimLog Shim = iota
	ShimStdio
	ShimWasm
	ShimShell
	ShimGrpc
	ShimHost
)

func (s Shim) String() string {
	switch s {
	case ShimLog:
		return "log"
	case ShimStdio:
		return "stdio"
	case ShimWasm:
		return "wasm"
	case ShimShell:
		return "shell"
	case ShimGrpc:
		return "grpc"
	case ShimHost:
		return "host"
	}
	return fmt.Sprintf("shim(%d)", int(s))
}

// ParseShim maps a config string to a Shim kind, defaulting to host.
func ParseShim(s string) Shim {
	switch s {
	case "log":
		return ShimLog
	case "stdio":
		return ShimStdio
	case "wasm":
		return ShimWasm
	case "shell":
		return ShimShell
	case "grpc":
		return ShimGrpc
	default:
		return ShimHost
	}
}

type ApplicationState int

const (
	AppEnabled ApplicationState = iota
	AppDisabled
)

type SessionState int

const (
	SessionOpen SessionState = iota
	SessionClosed
)

type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceed
	TaskFailed
)

func (s TaskState) Terminal() bool {
	return s == TaskSucceed || s == TaskFailed
}

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "Pending"
	case TaskRunning:
		return "Running"
	case TaskSucceed:
		return "Succeed"
	case TaskFailed:
		return "Failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type ExecutorState int

const (
	ExecutorIdle ExecutorState = iota
	ExecutorBinding
	ExecutorBound
	ExecutorUnbinding
	ExecutorVoid
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorIdle:
		return "Idle"
	case ExecutorBinding:
		return "Binding"
	case ExecutorBound:
		return "Bound"
	case ExecutorUnbinding:
		return "Unbinding"
	case ExecutorVoid:
		return "Void"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ApplicationAttributes is the mutable part of an Application.
type ApplicationAttributes struct {
	Shim  Shim
	Image string
	// URL is the service endpoint for the grpc shim variant.
	URL              string
	Command          string
	Arguments        []string
	Environments     map[string]string
	WorkingDirectory string
	Description      string
	Labels           []string
	Schema           *ApplicationSchema

	// MaxInstances caps concurrent executors across all sessions of the
	// application.
	MaxInstances int
	// DelayRelease keeps an unbound executor warm for the application.
	DelayRelease time.Duration
}

// ApplicationSchema carries optional JSON schemas describing the service's
// task input/output and common data.
type ApplicationSchema struct {
	Input      string
	Output     string
	CommonData string
}

type Application struct {
	Name ApplicationID
	ApplicationAttributes

	State        ApplicationState
	CreationTime time.Time
}

// SessionSpec is the client-provided part of a Session. open_session validates
// a resubmitted spec against these fields, common data excluded.
type SessionSpec struct {
	Application  ApplicationID
	Slots        int
	CommonData   []byte
	MinInstances int
	// MaxInstances of 0 means unbounded.
	MaxInstances int
}

// TaskStatusCounters is the per-state task histogram of a session. It is kept
// durable in the same transaction as the task transition it summarises.
type TaskStatusCounters struct {
	Pending int
	Running int
	Succeed int
	Failed  int
}

func (c TaskStatusCounters) Total() int {
	return c.Pending + c.Running + c.Succeed + c.Failed
}

type Session struct {
	ID SessionID
	SessionSpec

	Counters       TaskStatusCounters
	State          SessionState
	CreationTime   time.Time
	CompletionTime *time.Time

	// Version increases on every durable mutation; the state cache refuses
	// regressions.
	Version int64
}

type Task struct {
	ID        TaskID
	SessionID SessionID

	// Input and Output distinguish empty bytes from absent bytes.
	Input  []byte
	Output []byte

	State          TaskState
	CreationTime   time.Time
	CompletionTime *time.Time
	Version        int64

	Events []Event
}

// GID returns the task's global identity.
func (t *Task) GID() TaskGID {
	return TaskGID{SessionID: t.SessionID, TaskID: t.ID}
}

// TaskGID identifies a task across sessions.
type TaskGID struct {
	SessionID SessionID
	TaskID    TaskID
}

func (g TaskGID) String() string {
	return fmt.Sprintf("%s/%d", g.SessionID, g.TaskID)
}

// Executor is process-scoped soft state; it has no durable row. Losing the
// executor process is equivalent to ExecutorVoid.
type Executor struct {
	ID    ExecutorID
	Slots int

	State       ExecutorState
	Application ApplicationID
	SessionID   SessionID
	TaskID      TaskID

	// PreemptRequested asks the executor to stop pulling tasks at the next
	// task boundary and unbind.
	PreemptRequested bool

	// LastSeen is refreshed on every Backend RPC; an executor silent past the
	// lease is declared Void and its running task requeued.
	LastSeen time.Time

	CreationTime time.Time
}

// Event is an append-only observability record tied to an entity.
type Event struct {
	Owner        string
	Parent       string
	Code         int
	Message      string
	CreationTime time.Time
}

// Event codes recorded by the core at state transitions.
const (
	EventTaskPending     = 100 + int(TaskPending)
	EventTaskRunning     = 100 + int(TaskRunning)
	EventTaskSucceed     = 100 + int(TaskSucceed)
	EventTaskFailed      = 100 + int(TaskFailed)
	EventSessionOpened   = 200
	EventSessionClosed   = 201
	EventBindRequested   = 300
	EventBindCompleted   = 301
	EventUnbindRequested = 302
	EventPreempted       = 303
	EventStarvation      = 304
	EventExecutorVoid    = 305
	EventRecorderDropped = 900
)
