package executor

import (
	"context"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/k82cn/flame/client"
	"github.com/k82cn/flame/executor/shim"
)

const restartBackoff = time.Second

// Manager keeps a fixed pool of executors attached to the session manager,
// replacing any that go Void.
type Manager struct {
	backend *client.BackendClient
	count   int
	slots   int
	shimCfg shim.Config
}

func NewManager(backend *client.BackendClient, count, slots int, shimCfg shim.Config) *Manager {
	if count <= 0 {
		count = 1
	}
	if slots <= 0 {
		slots = 1
	}
	return &Manager{backend: backend, count: count, slots: slots, shimCfg: shimCfg}
}

// Run blocks until ctx is done; each pool slot runs its own state machine.
func (m *Manager) Run(ctx context.Context) error {
	log.L().Info("executor manager starting",
		zap.Int("executors", m.count), zap.Int("slots", m.slots))

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.count; i++ {
		slot := i
		eg.Go(func() error {
			return m.runSlot(ctx, slot)
		})
	}
	return eg.Wait()
}

func (m *Manager) runSlot(ctx context.Context, slot int) error {
	for {
		exec := New(m.backend, m.slots, m.shimCfg)
		err := exec.Run(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.L().Warn("executor exited, replacing",
			zap.Int("slot", slot),
			zap.String("executor", exec.ID()),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartBackoff):
		}
	}
}
