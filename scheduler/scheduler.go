// Package scheduler runs the single logical tick loop: snapshot the hot
// state, compute a desired allocation, and diff it against reality into bind
// assignments and preempt requests. One pass runs at a time; edge triggers
// are coalesced.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gavv/monotime"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/k82cn/flame/events"
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/clock"
	"github.com/k82cn/flame/scheduler/binding"
	"github.com/k82cn/flame/storage"
)

type Config struct {
	TickInterval        time.Duration
	StarvationThreshold time.Duration
	// LeaseExpiry declares a silent executor Void and requeues its task.
	LeaseExpiry time.Duration
}

func (c Config) Adjust() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.StarvationThreshold <= 0 {
		c.StarvationThreshold = 5 * time.Second
	}
	if c.LeaseExpiry <= 0 {
		c.LeaseExpiry = 30 * time.Second
	}
	return c
}

type Scheduler struct {
	storage     *storage.Storage
	coordinator *binding.Coordinator
	recorder    *events.Recorder
	policy      Policy
	clock       clock.Clock
	cfg         Config

	triggerCh chan struct{}

	// starvedSince tracks how long each session's min_instances floor has
	// been unmet; warnings are rate limited.
	starvedSince  map[model.SessionID]time.Time
	starveLimiter *rate.Limiter
}

func New(
	store *storage.Storage,
	coordinator *binding.Coordinator,
	recorder *events.Recorder,
	policy Policy,
	clk clock.Clock,
	cfg Config,
) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		storage:       store,
		coordinator:   coordinator,
		recorder:      recorder,
		policy:        policy,
		clock:         clk,
		cfg:           cfg.Adjust(),
		triggerCh:     make(chan struct{}, 1),
		starvedSince:  make(map[model.SessionID]time.Time),
		starveLimiter: rate.NewLimiter(rate.Every(time.Second), 8),
	}
}

// Trigger requests an immediate pass. Concurrent triggers coalesce into one.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Run drives the tick loop until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.triggerCh:
		}

		s.RunOnce(ctx)
	}
}

// RunOnce performs one scheduling pass. Exposed for tests; the pass never
// holds a session lock across cross-session computation.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := monotime.Now()

	s.expireLeases(ctx)

	snap := s.storage.Snapshot()
	alloc := s.policy.Allocate(snap)
	s.rebalanceStarved(snap, alloc)

	assignments, preempts := s.diff(snap, alloc)
	s.coordinator.SetPlan(assignments)
	s.applyPreempts(snap, preempts)
	s.trackStarvation(alloc)

	if len(assignments) > 0 || len(preempts) > 0 {
		log.L().Info("scheduling pass",
			zap.Int("bind-requests", len(assignments)),
			zap.Int("preempts", len(preempts)),
			zap.Duration("took", monotime.Since(start)))
	}
}

// rebalanceStarved rotates capacity toward sessions starved past the
// threshold: one unit moves from the largest grant of the same application,
// so floored sessions time-multiplex a pool too small for all floors.
func (s *Scheduler) rebalanceStarved(snap *model.Snapshot, alloc *Allocation) {
	if len(alloc.Starved) == 0 {
		return
	}

	infos := make(map[model.SessionID]*model.SessionInfo, len(snap.Sessions))
	for _, ssn := range snap.Sessions {
		infos[ssn.ID] = ssn
	}
	now := s.clock.Now()

	for _, starvedID := range alloc.Starved {
		since, ok := s.starvedSince[starvedID]
		if !ok || now.Sub(since) < s.cfg.StarvationThreshold {
			continue
		}
		starved := infos[starvedID]
		if starved == nil || alloc.Desired[starvedID] >= starved.MinInstances {
			continue
		}

		var donor *model.SessionInfo
		for _, ssn := range snap.Sessions {
			if ssn.ID == starvedID || ssn.Application != starved.Application {
				continue
			}
			if alloc.Desired[ssn.ID] == 0 {
				continue
			}
			if donor == nil || alloc.Desired[ssn.ID] > alloc.Desired[donor.ID] {
				donor = ssn
			}
		}
		if donor == nil {
			continue
		}

		alloc.Desired[donor.ID]--
		alloc.Desired[starvedID]++
		delete(s.starvedSince, starvedID)
		log.L().Info("rotating capacity to starved session",
			zap.String("from", donor.ID), zap.String("to", starvedID))
	}
}

// diff turns desired-vs-current into a pending-bind queue and a preempt set.
func (s *Scheduler) diff(
	snap *model.Snapshot, alloc *Allocation,
) ([]binding.Assignment, []model.ExecutorID) {
	boundBySession := make(map[model.SessionID][]*model.ExecutorInfo)
	for _, exec := range snap.Executors {
		if exec.SessionID == "" {
			continue
		}
		if exec.State == model.ExecutorBound || exec.State == model.ExecutorBinding {
			boundBySession[exec.SessionID] = append(boundBySession[exec.SessionID], exec)
		}
	}
	for _, execs := range boundBySession {
		sort.Slice(execs, func(i, j int) bool { return execs[i].ID < execs[j].ID })
	}

	var assignments []binding.Assignment
	var preempts []model.ExecutorID

	for _, ssn := range snap.Sessions {
		desired := alloc.Desired[ssn.ID]
		current := len(boundBySession[ssn.ID])

		switch {
		case ssn.State == model.SessionOpen && desired > current:
			for i := 0; i < desired-current; i++ {
				assignments = append(assignments, binding.Assignment{
					Application: ssn.Application,
					SessionID:   ssn.ID,
					Slots:       ssn.Slots,
				})
			}
			s.recorder.Record(ssn.ID, ssn.Application, model.EventBindRequested,
				fmt.Sprintf("requested %d executors", desired-current))

		case desired < current:
			// Surplus executors leave at the next task boundary; those past
			// the desired count in executor id order are preempted.
			surplus := boundBySession[ssn.ID][desired:]
			for _, exec := range surplus {
				preempts = append(preempts, exec.ID)
			}
		}
	}

	// Executors attached to sessions that vanished from the snapshot
	// (closed and evicted) are preempted too.
	known := make(map[model.SessionID]struct{}, len(snap.Sessions))
	for _, ssn := range snap.Sessions {
		known[ssn.ID] = struct{}{}
	}
	for ssnID, execs := range boundBySession {
		if _, ok := known[ssnID]; ok {
			continue
		}
		for _, exec := range execs {
			preempts = append(preempts, exec.ID)
		}
	}

	return assignments, preempts
}

func (s *Scheduler) applyPreempts(snap *model.Snapshot, preempts []model.ExecutorID) {
	for _, id := range preempts {
		err := s.storage.UpdateExecutor(id, func(e *model.Executor) error {
			if !e.PreemptRequested {
				s.recorder.Record(string(e.ID), e.SessionID, model.EventPreempted,
					fmt.Sprintf("preempt requested while <%s>", e.State))
			}
			e.PreemptRequested = true
			return nil
		})
		if err != nil {
			// The executor may have unregistered since the snapshot.
			log.L().Debug("preempt skipped", zap.String("executor", string(id)), zap.Error(err))
		}
	}
}

func (s *Scheduler) trackStarvation(alloc *Allocation) {
	now := s.clock.Now()

	starved := make(map[model.SessionID]struct{}, len(alloc.Starved))
	for _, id := range alloc.Starved {
		starved[id] = struct{}{}
		since, ok := s.starvedSince[id]
		if !ok {
			s.starvedSince[id] = now
			continue
		}
		if now.Sub(since) >= s.cfg.StarvationThreshold && s.starveLimiter.Allow() {
			s.recorder.Record(id, "", model.EventStarvation,
				fmt.Sprintf("min_instances unmet for %s", now.Sub(since)))
			log.L().Warn("session starving",
				zap.String("session", id),
				zap.Duration("for", now.Sub(since)))
		}
	}

	for id := range s.starvedSince {
		if _, ok := starved[id]; !ok {
			delete(s.starvedSince, id)
		}
	}
}

// expireLeases voids executors silent past the lease and requeues the task
// each one held, making it re-dispatchable.
func (s *Scheduler) expireLeases(ctx context.Context) {
	now := s.clock.Now()

	for _, exec := range s.storage.ListExecutors() {
		if exec.LastSeen.IsZero() || now.Sub(exec.LastSeen) < s.cfg.LeaseExpiry {
			continue
		}

		log.L().Warn("executor lease expired",
			zap.String("executor", string(exec.ID)),
			zap.Time("last-seen", exec.LastSeen))
		s.recorder.Record(string(exec.ID), exec.SessionID, model.EventExecutorVoid,
			fmt.Sprintf("lease expired after %s", now.Sub(exec.LastSeen)))

		s.storage.RemoveExecutor(exec.ID)

		if exec.State == model.ExecutorBound && exec.TaskID > 0 && exec.SessionID != "" {
			gid := model.TaskGID{SessionID: exec.SessionID, TaskID: exec.TaskID}
			if _, err := s.storage.RetryTask(ctx, gid); err != nil {
				log.L().Error("requeue after lease expiry failed",
					zap.String("task", gid.String()), zap.Error(err))
			}
		}
	}
}
