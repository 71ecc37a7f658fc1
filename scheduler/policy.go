package scheduler

import (
	"github.com/k82cn/flame/model"
	"github.com/k82cn/flame/pkg/errors"
)

// Allocation is the outcome of one policy run: how many executors every open
// session deserves, and which sessions could not reach their min_instances
// floor.
type Allocation struct {
	Desired map[model.SessionID]int
	Starved []model.SessionID
}

// Policy computes a desired allocation from a snapshot. Implementations must
// be deterministic for a fixed snapshot.
type Policy interface {
	Name() string
	Allocate(snap *model.Snapshot) *Allocation
}

var policies = map[string]func() Policy{
	"proportion": func() Policy { return &proportionPolicy{} },
}

// NewPolicy resolves a configured policy name.
func NewPolicy(name string) (Policy, error) {
	if name == "" {
		name = "proportion"
	}
	ctor, ok := policies[name]
	if !ok {
		return nil, errors.ErrInvalidArgument.GenWithStackByArgs("unknown policy: " + name)
	}
	return ctor(), nil
}
