package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
	"github.com/k82cn/flame/pkg/notifier"
	"github.com/k82cn/flame/storage/engine"
)

// Storage is the write-through state cache over the persistence engine. Open
// sessions and their hot tasks live in memory; every mutation hits the engine
// first and the cache second. Closed sessions with no running tasks are
// evicted lazily.
//
// Locking: s.mu guards only map membership, never I/O. Each sessionEntry has
// its own lock so different sessions mutate in parallel. No lock is held
// across an engine call.
type Storage struct {
	engine engine.Engine

	mu        sync.RWMutex
	sessions  map[model.SessionID]*sessionEntry
	apps      map[model.ApplicationID]*model.Application
	executors map[model.ExecutorID]*model.Executor
}

type sessionEntry struct {
	mu      sync.Mutex
	session *model.Session
	tasks   map[model.TaskID]*model.Task

	// watcher publishes task snapshots to WatchTask streams.
	watcher *notifier.Notifier[*model.Task]
}

func newSessionEntry(ssn *model.Session) *sessionEntry {
	return &sessionEntry{
		session: ssn,
		tasks:   make(map[model.TaskID]*model.Task),
		watcher: notifier.NewNotifier[*model.Task](),
	}
}

// update refreshes the cached session from an engine-returned row, refusing
// version regressions from racing write-backs.
func (e *sessionEntry) update(ssn *model.Session) error {
	if ssn.Version < e.session.Version {
		return errors.ErrVersionMismatch.GenWithStackByArgs(
			fmt.Sprintf("session <%s> version %d < cached %d",
				ssn.ID, ssn.Version, e.session.Version))
	}
	e.session = ssn
	return nil
}

func (e *sessionEntry) updateTask(task *model.Task) {
	if task.State.Terminal() {
		delete(e.tasks, task.ID)
	} else {
		e.tasks[task.ID] = task
	}
	e.watcher.Notify(task)
}

// New connects the engine, seeds the default applications on first boot, and
// faults the hot state in from disk. Tasks found Running are requeued: the
// executors that held them did not survive the restart.
func New(ctx context.Context, dsn string) (*Storage, error) {
	eng, err := engine.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		engine:    eng,
		sessions:  make(map[model.SessionID]*sessionEntry),
		apps:      make(map[model.ApplicationID]*model.Application),
		executors: make(map[model.ExecutorID]*model.Executor),
	}

	if err := s.seedDefaultApplications(ctx); err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	for _, entry := range s.sessions {
		entry.watcher.Close()
	}
	s.sessions = make(map[model.SessionID]*sessionEntry)
	s.mu.Unlock()
	return s.engine.Close()
}

func (s *Storage) seedDefaultApplications(ctx context.Context) error {
	apps, err := s.engine.ListApplications(ctx)
	if err != nil {
		return err
	}
	if len(apps) > 0 {
		return nil
	}
	for name, attr := range model.DefaultApplications() {
		if _, err := s.engine.RegisterApplication(ctx, name, attr); err != nil {
			return err
		}
		log.L().Info("seeded default application", zap.String("application", name))
	}
	return nil
}

func (s *Storage) load(ctx context.Context) error {
	apps, err := s.engine.ListApplications(ctx)
	if err != nil {
		return err
	}
	ssns, err := s.engine.ListSessions(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, app := range apps {
		s.apps[app.Name] = app
	}

	for _, ssn := range ssns {
		if ssn.State == model.SessionClosed {
			continue
		}
		entry := newSessionEntry(ssn)

		tasks, err := s.engine.ListTasks(ctx, ssn.ID, model.TaskPending, model.TaskRunning)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if task.State == model.TaskRunning {
				requeued, err := s.engine.RetryTask(ctx, task.GID())
				if err != nil {
					return err
				}
				log.L().Info("requeued running task after restart",
					zap.String("task", task.GID().String()))
				task = requeued
			}
			entry.tasks[task.ID] = task
		}

		// The counters moved while requeueing; reload the authoritative row.
		reloaded, err := s.engine.GetSession(ctx, ssn.ID)
		if err != nil {
			return err
		}
		entry.session = reloaded
		s.sessions[ssn.ID] = entry
	}

	log.L().Info("storage loaded",
		zap.Int("applications", len(s.apps)),
		zap.Int("open-sessions", len(s.sessions)))
	return nil
}

func (s *Storage) entry(id model.SessionID) (*sessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	return entry, ok
}

// faultIn loads a session the cache does not know about. Used after eviction.
func (s *Storage) faultIn(ctx context.Context, id model.SessionID) (*sessionEntry, error) {
	ssn, err := s.engine.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[id]; ok {
		return entry, nil
	}
	entry := newSessionEntry(ssn)
	if ssn.State == model.SessionOpen {
		s.sessions[id] = entry
	}
	return entry, nil
}

// Applications

func (s *Storage) RegisterApplication(
	ctx context.Context, name model.ApplicationID, attr model.ApplicationAttributes,
) error {
	app, err := s.engine.RegisterApplication(ctx, name, attr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.apps[name] = app
	s.mu.Unlock()
	return nil
}

func (s *Storage) UpdateApplication(
	ctx context.Context, name model.ApplicationID, attr model.ApplicationAttributes,
	state model.ApplicationState,
) error {
	app, err := s.engine.UpdateApplication(ctx, name, attr, state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.apps[name] = app
	s.mu.Unlock()
	return nil
}

func (s *Storage) UnregisterApplication(ctx context.Context, name model.ApplicationID) error {
	if err := s.engine.UnregisterApplication(ctx, name); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.apps, name)
	for id, entry := range s.sessions {
		entry.mu.Lock()
		if entry.session.Application == name {
			entry.watcher.Close()
			delete(s.sessions, id)
		}
		entry.mu.Unlock()
	}
	s.mu.Unlock()
	return nil
}

func (s *Storage) GetApplication(ctx context.Context, name model.ApplicationID) (*model.Application, error) {
	s.mu.RLock()
	app, ok := s.apps[name]
	s.mu.RUnlock()
	if ok {
		return app, nil
	}
	return s.engine.GetApplication(ctx, name)
}

func (s *Storage) ListApplications(ctx context.Context) ([]*model.Application, error) {
	return s.engine.ListApplications(ctx)
}

// Sessions

func (s *Storage) CreateSession(
	ctx context.Context, id model.SessionID, spec model.SessionSpec,
) (*model.Session, error) {
	ssn, err := s.engine.CreateSession(ctx, id, spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[ssn.ID] = newSessionEntry(ssn)
	s.mu.Unlock()
	return ssn, nil
}

func (s *Storage) OpenSession(
	ctx context.Context, id model.SessionID, spec *model.SessionSpec,
) (*model.Session, error) {
	// A cached open session answers the get path without touching disk; the
	// spec is still validated so mismatch surfaces identically.
	if entry, ok := s.entry(id); ok {
		entry.mu.Lock()
		ssn := entry.session
		entry.mu.Unlock()
		if ssn.State == model.SessionOpen {
			if spec != nil {
				if err := validateSpec(ssn, spec); err != nil {
					return nil, err
				}
			}
			return ssn, nil
		}
	}

	ssn, err := s.engine.OpenSession(ctx, id, spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.sessions[ssn.ID]; !ok {
		s.sessions[ssn.ID] = newSessionEntry(ssn)
	}
	s.mu.Unlock()
	return ssn, nil
}

func validateSpec(ssn *model.Session, spec *model.SessionSpec) error {
	switch {
	case ssn.Application != spec.Application:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on application: <%s> vs <%s>",
			ssn.ID, ssn.Application, spec.Application))
	case ssn.Slots != spec.Slots:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on slots: <%d> vs <%d>",
			ssn.ID, ssn.Slots, spec.Slots))
	case ssn.MinInstances != spec.MinInstances:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on min_instances: <%d> vs <%d>",
			ssn.ID, ssn.MinInstances, spec.MinInstances))
	case ssn.MaxInstances != spec.MaxInstances:
		return errors.ErrInvalidArgument.GenWithStackByArgs(fmt.Sprintf(
			"session <%s> spec mismatch on max_instances: <%d> vs <%d>",
			ssn.ID, ssn.MaxInstances, spec.MaxInstances))
	}
	return nil
}

func (s *Storage) CloseSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	ssn, err := s.engine.CloseSession(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, ok := s.entry(id)
	if !ok {
		return ssn, nil
	}

	entry.mu.Lock()
	if err := entry.update(ssn); err != nil {
		// A concurrent close already advanced the cache; the durable row wins.
		log.L().Warn("stale session write-back dropped",
			zap.String("session", id), zap.Error(err))
	}
	// Pending tasks failed durably inside the close transaction; reflect that
	// in the cache and wake their watchers.
	for tid, task := range entry.tasks {
		if task.State == model.TaskPending {
			failed := *task
			failed.State = model.TaskFailed
			failed.CompletionTime = ssn.CompletionTime
			delete(entry.tasks, tid)
			entry.watcher.Notify(&failed)
		}
	}
	remaining := len(entry.tasks)
	entry.mu.Unlock()

	if remaining == 0 {
		s.evict(id)
	}
	return ssn, nil
}

func (s *Storage) DeleteSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	ssn, err := s.engine.DeleteSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.evict(id)
	return ssn, nil
}

// evict drops a closed session from the cache and terminates its watchers.
// Pending notifications are flushed first so a watcher never misses the
// terminal snapshot that caused the eviction.
func (s *Storage) evict(id model.SessionID) {
	if entry, ok := s.entry(id); ok {
		flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := entry.watcher.Flush(flushCtx); err != nil {
			log.L().Warn("watcher flush on evict", zap.String("session", id), zap.Error(err))
		}
		cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[id]; ok {
		entry.watcher.Close()
		delete(s.sessions, id)
	}
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if entry, ok := s.entry(id); ok {
		entry.mu.Lock()
		ssn := entry.session
		entry.mu.Unlock()
		return ssn, nil
	}
	return s.engine.GetSession(ctx, id)
}

func (s *Storage) ListSessions(ctx context.Context) ([]*model.Session, error) {
	return s.engine.ListSessions(ctx)
}

// Tasks

func (s *Storage) CreateTask(
	ctx context.Context, ssnID model.SessionID, input []byte,
) (*model.Task, error) {
	entry, ok := s.entry(ssnID)
	if !ok {
		var err error
		entry, err = s.faultIn(ctx, ssnID)
		if err != nil {
			return nil, err
		}
	}

	task, err := s.engine.CreateTask(ctx, ssnID, input)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	entry.session.Counters.Pending++
	entry.session.Version++
	entry.updateTask(task)
	entry.mu.Unlock()
	return task, nil
}

func (s *Storage) GetTask(ctx context.Context, gid model.TaskGID) (*model.Task, error) {
	return s.engine.GetTask(ctx, gid)
}

func (s *Storage) ListTasks(
	ctx context.Context, ssnID model.SessionID, states ...model.TaskState,
) ([]*model.Task, error) {
	if _, ok := s.entry(ssnID); !ok {
		if _, err := s.engine.GetSession(ctx, ssnID); err != nil {
			return nil, err
		}
	}
	return s.engine.ListTasks(ctx, ssnID, states...)
}

// LaunchTask atomically moves the session's oldest Pending task to Running.
// Returns nil when the session has nothing pending.
func (s *Storage) LaunchTask(ctx context.Context, ssnID model.SessionID) (*model.Task, error) {
	entry, ok := s.entry(ssnID)
	if !ok {
		return nil, errors.ErrNotFound.GenWithStackByArgs(ssnID)
	}

	task, err := s.engine.LaunchTask(ctx, ssnID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	entry.mu.Lock()
	entry.session.Counters.Pending--
	entry.session.Counters.Running++
	entry.session.Version++
	entry.updateTask(task)
	entry.mu.Unlock()
	return task, nil
}

func (s *Storage) CompleteTask(
	ctx context.Context, gid model.TaskGID, state model.TaskState, output []byte, message string,
) (*model.Task, error) {
	entry, ok := s.entry(gid.SessionID)
	if !ok {
		var err error
		entry, err = s.faultIn(ctx, gid.SessionID)
		if err != nil {
			return nil, err
		}
	}

	entry.mu.Lock()
	prev, known := entry.tasks[gid.TaskID]
	entry.mu.Unlock()

	task, err := s.engine.CompleteTask(ctx, gid, state, output, message)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	if known && prev.State == model.TaskRunning && task.State.Terminal() {
		entry.session.Counters.Running--
		if task.State == model.TaskSucceed {
			entry.session.Counters.Succeed++
		} else {
			entry.session.Counters.Failed++
		}
		entry.session.Version++
	}
	entry.updateTask(task)
	closed := entry.session.State == model.SessionClosed && len(entry.tasks) == 0
	entry.mu.Unlock()

	if closed {
		s.evict(gid.SessionID)
	}
	return task, nil
}

func (s *Storage) RetryTask(ctx context.Context, gid model.TaskGID) (*model.Task, error) {
	entry, ok := s.entry(gid.SessionID)
	if !ok {
		return nil, errors.ErrNotFound.GenWithStackByArgs(gid.SessionID)
	}

	task, err := s.engine.RetryTask(ctx, gid)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	entry.session.Counters.Running--
	entry.session.Counters.Pending++
	entry.session.Version++
	entry.updateTask(task)
	entry.mu.Unlock()
	return task, nil
}

// WatchTask returns the current task snapshot and a receiver of subsequent
// snapshots for the session. The caller filters by task id and stops when it
// observes a terminal state; Close the receiver when done.
func (s *Storage) WatchTask(
	ctx context.Context, gid model.TaskGID,
) (*model.Task, *notifier.Receiver[*model.Task], error) {
	entry, ok := s.entry(gid.SessionID)
	if !ok {
		// Unknown or evicted session: answer from disk; a terminal snapshot
		// needs no live stream.
		task, err := s.engine.GetTask(ctx, gid)
		if err != nil {
			return nil, nil, err
		}
		return task, nil, nil
	}

	entry.mu.Lock()
	// Deliver snapshots queued before this call, so the new receiver only
	// sees transitions published after it is registered.
	flushCtx, cancel := context.WithTimeout(ctx, time.Second)
	if err := entry.watcher.Flush(flushCtx); err != nil {
		log.L().Warn("watcher flush on watch", zap.String("session", gid.SessionID), zap.Error(err))
	}
	cancel()
	receiver := entry.watcher.NewReceiver()
	snapshot, cached := entry.tasks[gid.TaskID]
	entry.mu.Unlock()

	if cached {
		return snapshot, receiver, nil
	}

	task, err := s.engine.GetTask(ctx, gid)
	if err != nil {
		receiver.Close()
		return nil, nil, err
	}
	return task, receiver, nil
}

// RecordEvent forwards to the engine directly; asynchronous recording goes
// through the events package.
func (s *Storage) RecordEvent(ctx context.Context, event model.Event) error {
	return s.engine.RecordEvent(ctx, event)
}

func (s *Storage) ListEvents(ctx context.Context, owner string) ([]model.Event, error) {
	return s.engine.ListEvents(ctx, owner)
}

// Snapshot copies the hot state for one scheduling pass. Per-session locks are
// taken one at a time; the result is a consistent-enough view for a tick and
// is never written back.
func (s *Storage) Snapshot() *model.Snapshot {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	apps := make(map[model.ApplicationID]*model.AppInfo, len(s.apps))
	for name, app := range s.apps {
		apps[name] = &model.AppInfo{
			Name:         name,
			State:        app.State,
			MaxInstances: app.MaxInstances,
			DelayRelease: app.DelayRelease,
		}
	}
	executors := make([]*model.ExecutorInfo, 0, len(s.executors))
	for _, exec := range s.executors {
		executors = append(executors, &model.ExecutorInfo{
			ID:          exec.ID,
			Slots:       exec.Slots,
			State:       exec.State,
			Application: exec.Application,
			SessionID:   exec.SessionID,
		})
	}
	s.mu.RUnlock()

	allocated := make(map[model.SessionID]int)
	for _, exec := range executors {
		if exec.SessionID != "" &&
			(exec.State == model.ExecutorBound || exec.State == model.ExecutorBinding) {
			allocated[exec.SessionID]++
		}
	}

	sessions := make([]*model.SessionInfo, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		ssn := entry.session
		info := &model.SessionInfo{
			ID:           ssn.ID,
			Application:  ssn.Application,
			Slots:        ssn.Slots,
			MinInstances: ssn.MinInstances,
			MaxInstances: ssn.MaxInstances,
			Pending:      ssn.Counters.Pending,
			Running:      ssn.Counters.Running,
			State:        ssn.State,
			CreationTime: ssn.CreationTime,
			Allocated:    allocated[ssn.ID],
		}
		entry.mu.Unlock()
		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreationTime.Equal(sessions[j].CreationTime) {
			return sessions[i].CreationTime.Before(sessions[j].CreationTime)
		}
		return sessions[i].ID < sessions[j].ID
	})

	return &model.Snapshot{
		Sessions:     sessions,
		Executors:    executors,
		Applications: apps,
	}
}
