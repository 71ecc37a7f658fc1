package scheduler

import (
	"sort"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/k82cn/flame/model"
)

// proportionPolicy shares an application's executor capacity among its open
// sessions by water-filling: min_instances floors first, then equalised
// grants until demand saturates or capacity runs out. Ties break by session
// creation time, so a fixed snapshot always yields the same plan.
type proportionPolicy struct{}

func (p *proportionPolicy) Name() string { return "proportion" }

func (p *proportionPolicy) Allocate(snap *model.Snapshot) *Allocation {
	alloc := &Allocation{Desired: make(map[model.SessionID]int)}

	byApp := make(map[model.ApplicationID][]*model.SessionInfo)
	for _, ssn := range snap.OpenSessions() {
		byApp[ssn.Application] = append(byApp[ssn.Application], ssn)
	}

	idle := 0
	boundTo := make(map[model.ApplicationID]int)
	for _, exec := range snap.Executors {
		switch exec.State {
		case model.ExecutorIdle:
			idle++
		case model.ExecutorBinding, model.ExecutorBound, model.ExecutorUnbinding:
			boundTo[exec.Application]++
		}
	}

	apps := make([]model.ApplicationID, 0, len(byApp))
	for name := range byApp {
		apps = append(apps, name)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i] < apps[j] })

	for _, name := range apps {
		sessions := byApp[name]
		// Snapshot sessions arrive ordered by creation time already; keep the
		// order explicit anyway.
		sort.Slice(sessions, func(i, j int) bool {
			if !sessions[i].CreationTime.Equal(sessions[j].CreationTime) {
				return sessions[i].CreationTime.Before(sessions[j].CreationTime)
			}
			return sessions[i].ID < sessions[j].ID
		})

		cap := idle + boundTo[name]
		if app, ok := snap.Applications[name]; ok && app.MaxInstances > 0 && cap > app.MaxInstances {
			cap = app.MaxInstances
		}

		p.waterFill(sessions, cap, alloc)
	}

	return alloc
}

func (p *proportionPolicy) waterFill(sessions []*model.SessionInfo, capacity int, alloc *Allocation) {
	grants := make(map[model.SessionID]int, len(sessions))
	demands := make(map[model.SessionID]int, len(sessions))

	for _, ssn := range sessions {
		demand := ssn.Demand()
		if demand < ssn.MinInstances {
			// The floor holds even while the session has little to do, so a
			// freshly opened session keeps its warm executors.
			demand = ssn.MinInstances
		}
		demands[ssn.ID] = demand
	}

	// min_instances floors first, in creation order. Whatever cannot be
	// granted is starvation.
	remaining := capacity
	for _, ssn := range sessions {
		floor := ssn.MinInstances
		if floor > demands[ssn.ID] {
			floor = demands[ssn.ID]
		}
		if floor > remaining {
			floor = remaining
		}
		grants[ssn.ID] = floor
		remaining -= floor

		if grants[ssn.ID] < ssn.MinInstances {
			alloc.Starved = append(alloc.Starved, ssn.ID)
			log.L().Warn("session min_instances unmet",
				zap.String("session", ssn.ID),
				zap.Int("min-instances", ssn.MinInstances),
				zap.Int("granted", grants[ssn.ID]))
		}
	}

	// Water-fill the leftover one unit at a time: always raise the session
	// whose fill ratio is lowest. Discrete, but converges to the same grants
	// as the continuous version and stays deterministic.
	for remaining > 0 {
		var pick *model.SessionInfo
		for _, ssn := range sessions {
			if grants[ssn.ID] >= demands[ssn.ID] {
				continue
			}
			if pick == nil || lessFilled(ssn, pick, grants, demands) {
				pick = ssn
			}
		}
		if pick == nil {
			break
		}
		grants[pick.ID]++
		remaining--
	}

	for _, ssn := range sessions {
		alloc.Desired[ssn.ID] = grants[ssn.ID]
	}
}

// lessFilled reports whether a should be filled before b. Comparing
// grant*demand cross-products avoids float ratios.
func lessFilled(a, b *model.SessionInfo, grants, demands map[model.SessionID]int) bool {
	left := grants[a.ID] * demands[b.ID]
	right := grants[b.ID] * demands[a.ID]
	if left != right {
		return left < right
	}
	if !a.CreationTime.Equal(b.CreationTime) {
		return a.CreationTime.Before(b.CreationTime)
	}
	return a.ID < b.ID
}
