package storage

import (
	"fmt"

	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

// The executor index is process-scoped soft state: there is no durable row,
// and losing the process is the same as every executor going Void. The lock is
// held only across map operations.

func (s *Storage) AddExecutor(exec *model.Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executors[exec.ID]; ok {
		return errors.ErrConflict.GenWithStackByArgs(
			fmt.Sprintf("executor <%s> already registered", exec.ID))
	}
	s.executors[exec.ID] = exec
	return nil
}

func (s *Storage) RemoveExecutor(id model.ExecutorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executors, id)
}

func (s *Storage) GetExecutor(id model.ExecutorID) (*model.Executor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executors[id]
	if !ok {
		return nil, errors.ErrNotFound.GenWithStackByArgs(string(id))
	}
	clone := *exec
	return &clone, nil
}

func (s *Storage) ListExecutors() []*model.Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execs := make([]*model.Executor, 0, len(s.executors))
	for _, exec := range s.executors {
		clone := *exec
		execs = append(execs, &clone)
	}
	return execs
}

// UpdateExecutor applies fn to the live executor entry under the index lock.
// fn must not block.
func (s *Storage) UpdateExecutor(id model.ExecutorID, fn func(*model.Executor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executors[id]
	if !ok {
		return errors.ErrNotFound.GenWithStackByArgs(string(id))
	}
	return fn(exec)
}

// ExecutorCount returns the number of live executors; the global
// max_executors cap is enforced against it at registration.
func (s *Storage) ExecutorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executors)
}
