// Package binding pairs idle executors with the sessions the scheduler wants
// capacity for. The scheduler publishes a plan each tick; executors blocked in
// bind_executor consume it FIFO per application.
package binding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/pkg/errors"
	"github.com/k82cn/flame/pkg/notifier"
	"github.com/k82cn/flame/storage"
)

// Assignment is one executor's worth of demand for a session.
type Assignment struct {
	Application model.ApplicationID
	SessionID   model.SessionID
	Slots       int
}

type Coordinator struct {
	storage  *storage.Storage
	bindWait time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	queues map[model.ApplicationID][]Assignment

	// planned wakes executors blocked in Acquire whenever a new plan lands.
	planned *notifier.Notifier[struct{}]
}

func NewCoordinator(store *storage.Storage, bindWait time.Duration, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		storage:  store,
		bindWait: bindWait,
		clock:    clk,
		queues:   make(map[model.ApplicationID][]Assignment),
		planned:  notifier.NewNotifier[struct{}](),
	}
}

func (c *Coordinator) Close() {
	c.planned.Close()
}

// SetPlan replaces the pending-bind queue with the plan of the latest tick.
// A plan computed from a stale snapshot is simply superseded next tick.
func (c *Coordinator) SetPlan(assignments []Assignment) {
	c.mu.Lock()
	c.queues = make(map[model.ApplicationID][]Assignment)
	for _, a := range assignments {
		c.queues[a.Application] = append(c.queues[a.Application], a)
	}
	pending := 0
	for _, q := range c.queues {
		pending += len(q)
	}
	c.mu.Unlock()

	if pending > 0 {
		c.planned.Notify(struct{}{})
	}
}

// PendingBinds reports the number of queued assignments.
func (c *Coordinator) PendingBinds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}

// tryAcquire pops the head assignment of the first application queue, in name
// order, whose head matches the slot count. Assignments queued behind a
// non-matching head are not considered.
func (c *Coordinator) tryAcquire(slots int) (*Assignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	apps := make([]model.ApplicationID, 0, len(c.queues))
	for name := range c.queues {
		apps = append(apps, name)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i] < apps[j] })

	for _, name := range apps {
		queue := c.queues[name]
		if len(queue) == 0 || queue[0].Slots != slots {
			continue
		}
		assignment := queue[0]
		c.queues[name] = queue[1:]
		return &assignment, true
	}
	return nil, false
}

// Acquire blocks until the scheduler plans a session for the executor, the
// bind wait expires (Unavailable), or ctx is cancelled. On success the
// executor is already transitioned to Binding in the index.
func (c *Coordinator) Acquire(ctx context.Context, id model.ExecutorID) (*Assignment, error) {
	exec, err := c.storage.GetExecutor(id)
	if err != nil {
		return nil, err
	}
	if exec.State != model.ExecutorIdle {
		return nil, errors.ErrInvalidState.GenWithStackByArgs(
			fmt.Sprintf("executor <%s> is <%s>, not idle", id, exec.State))
	}

	receiver := c.planned.NewReceiver()
	defer receiver.Close()

	timer := c.clock.Timer(c.bindWait)
	defer timer.Stop()

	for {
		if assignment, ok := c.tryAcquire(exec.Slots); ok {
			err := c.storage.UpdateExecutor(id, func(e *model.Executor) error {
				if e.State != model.ExecutorIdle {
					return errors.ErrInvalidState.GenWithStackByArgs(
						fmt.Sprintf("executor <%s> left idle during bind", id))
				}
				e.State = model.ExecutorBinding
				e.Application = assignment.Application
				e.SessionID = assignment.SessionID
				e.PreemptRequested = false
				return nil
			})
			if err != nil {
				return nil, err
			}

			log.L().Info("executor assigned",
				zap.String("executor", string(id)),
				zap.String("session", assignment.SessionID),
				zap.String("application", assignment.Application))
			return assignment, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.ErrCancelled.GenWithStackByArgs("bind wait cancelled")
		case <-timer.C:
			return nil, errors.ErrUnavailable.GenWithStackByArgs(
				fmt.Sprintf("no session for executor <%s> within %s", id, c.bindWait))
		case _, ok := <-receiver.C:
			if !ok {
				return nil, errors.ErrUnavailable.GenWithStackByArgs("binding coordinator closed")
			}
		}
	}
}
