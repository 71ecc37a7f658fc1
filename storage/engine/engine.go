package engine

import (
	"context"
	"strings"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

// Engine is the transactional contract of the persistence layer. Every
// mutation is durable before it returns, and counter updates ride the same
// transaction as the task transition they summarise.
type Engine interface {
	RegisterApplication(ctx context.Context, name model.ApplicationID, attr model.ApplicationAttributes) (*model.Application, error)
	UpdateApplication(ctx context.Context, name model.ApplicationID, attr model.ApplicationAttributes, state model.ApplicationState) (*model.Application, error)
	UnregisterApplication(ctx context.Context, name model.ApplicationID) error
	GetApplication(ctx context.Context, name model.ApplicationID) (*model.Application, error)
	ListApplications(ctx context.Context) ([]*model.Application, error)

	// CreateSession inserts a new session; id must not exist. The frontend
	// substitutes a generated id when the client gives none.
	CreateSession(ctx context.Context, id model.SessionID, spec model.SessionSpec) (*model.Session, error)
	// OpenSession is a single-transaction get-or-create.
	OpenSession(ctx context.Context, id model.SessionID, spec *model.SessionSpec) (*model.Session, error)
	// CloseSession transitions Open -> Closed, failing all Pending tasks in
	// the same transaction. Idempotent on a Closed session.
	CloseSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	// DeleteSession removes a Closed session with its tasks and events.
	DeleteSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)

	CreateTask(ctx context.Context, ssnID model.SessionID, input []byte) (*model.Task, error)
	GetTask(ctx context.Context, gid model.TaskGID) (*model.Task, error)
	ListTasks(ctx context.Context, ssnID model.SessionID, states ...model.TaskState) ([]*model.Task, error)
	// LaunchTask atomically transitions the oldest Pending task of the
	// session to Running; returns nil when none is pending.
	LaunchTask(ctx context.Context, ssnID model.SessionID) (*model.Task, error)
	// RetryTask requeues a Running task to Pending (crash recovery, lease
	// expiry).
	RetryTask(ctx context.Context, gid model.TaskGID) (*model.Task, error)
	// CompleteTask applies the terminal transition with the optional output.
	// Replays against an already-terminal task return the stored row.
	CompleteTask(ctx context.Context, gid model.TaskGID, state model.TaskState, output []byte, message string) (*model.Task, error)

	RecordEvent(ctx context.Context, event model.Event) error
	ListEvents(ctx context.Context, owner string) ([]model.Event, error)
	ListEventsByParent(ctx context.Context, parent string) ([]model.Event, error)

	Close() error
}

// Connect resolves a storage DSN to an engine. Only sqlite is wired in-tree;
// the DSN form is "sqlite://<path>".
func Connect(ctx context.Context, dsn string) (Engine, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return newSqliteEngine(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("unknown storage dsn: " + dsn)
	}
}
