package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k82cn/flame/model"
)

func snapWith(sessions []*model.SessionInfo, executors []*model.ExecutorInfo, apps ...*model.AppInfo) *model.Snapshot {
	appMap := make(map[model.ApplicationID]*model.AppInfo)
	for _, app := range apps {
		appMap[app.Name] = app
	}
	return &model.Snapshot{Sessions: sessions, Executors: executors, Applications: appMap}
}

func ssnInfo(id string, created int64, pending, minInst, maxInst int) *model.SessionInfo {
	return &model.SessionInfo{
		ID:           id,
		Application:  "app",
		Slots:        1,
		MinInstances: minInst,
		MaxInstances: maxInst,
		Pending:      pending,
		State:        model.SessionOpen,
		CreationTime: time.Unix(created, 0),
	}
}

func idleExecutors(n int) []*model.ExecutorInfo {
	execs := make([]*model.ExecutorInfo, 0, n)
	for i := 0; i < n; i++ {
		execs = append(execs, &model.ExecutorInfo{
			ID:    model.ExecutorID(rune('a' + i)),
			Slots: 1,
			State: model.ExecutorIdle,
		})
	}
	return execs
}

func TestProportionEvenSplit(t *testing.T) {
	policy, err := NewPolicy("proportion")
	require.NoError(t, err)

	snap := snapWith(
		[]*model.SessionInfo{
			ssnInfo("s1", 1, 10, 0, 0),
			ssnInfo("s2", 2, 10, 0, 0),
		},
		idleExecutors(4),
		&model.AppInfo{Name: "app", MaxInstances: 100},
	)

	alloc := policy.Allocate(snap)
	require.Equal(t, 2, alloc.Desired["s1"])
	require.Equal(t, 2, alloc.Desired["s2"])
	require.Empty(t, alloc.Starved)
}

func TestProportionDeterministic(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	build := func() *model.Snapshot {
		return snapWith(
			[]*model.SessionInfo{
				ssnInfo("s1", 1, 7, 0, 0),
				ssnInfo("s2", 2, 3, 0, 0),
				ssnInfo("s3", 3, 5, 1, 0),
			},
			idleExecutors(5),
			&model.AppInfo{Name: "app", MaxInstances: 100},
		)
	}

	first := policy.Allocate(build())
	for i := 0; i < 10; i++ {
		require.Equal(t, first.Desired, policy.Allocate(build()).Desired)
	}
}

func TestProportionDemandCap(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	// s1 wants only 1; leftover goes to s2.
	snap := snapWith(
		[]*model.SessionInfo{
			ssnInfo("s1", 1, 1, 0, 0),
			ssnInfo("s2", 2, 10, 0, 0),
		},
		idleExecutors(4),
		&model.AppInfo{Name: "app", MaxInstances: 100},
	)

	alloc := policy.Allocate(snap)
	require.Equal(t, 1, alloc.Desired["s1"])
	require.Equal(t, 3, alloc.Desired["s2"])
}

func TestProportionSessionMaxInstances(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	snap := snapWith(
		[]*model.SessionInfo{ssnInfo("s1", 1, 10, 0, 2)},
		idleExecutors(5),
		&model.AppInfo{Name: "app", MaxInstances: 100},
	)

	alloc := policy.Allocate(snap)
	require.Equal(t, 2, alloc.Desired["s1"])
}

func TestProportionMaxInstancesZeroSession(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	// max_instances = 0 on a session means unbounded per the wire contract;
	// the boundary "forbid any allocation" case is a session with no demand.
	snap := snapWith(
		[]*model.SessionInfo{ssnInfo("s1", 1, 0, 0, 0)},
		idleExecutors(3),
		&model.AppInfo{Name: "app", MaxInstances: 100},
	)

	alloc := policy.Allocate(snap)
	require.Equal(t, 0, alloc.Desired["s1"])
}

func TestProportionApplicationCap(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	snap := snapWith(
		[]*model.SessionInfo{
			ssnInfo("s1", 1, 10, 0, 0),
			ssnInfo("s2", 2, 10, 0, 0),
		},
		idleExecutors(10),
		&model.AppInfo{Name: "app", MaxInstances: 4},
	)

	alloc := policy.Allocate(snap)
	require.Equal(t, 4, alloc.Desired["s1"]+alloc.Desired["s2"])
}

func TestProportionMinInstancesFloor(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	snap := snapWith(
		[]*model.SessionInfo{
			ssnInfo("s1", 1, 10, 0, 0),
			ssnInfo("s2", 2, 0, 2, 0),
		},
		idleExecutors(3),
		&model.AppInfo{Name: "app", MaxInstances: 100},
	)

	alloc := policy.Allocate(snap)
	// The floor holds even though s2 has nothing pending.
	require.Equal(t, 2, alloc.Desired["s2"])
	require.Equal(t, 1, alloc.Desired["s1"])
	require.Empty(t, alloc.Starved)
}

func TestProportionStarvation(t *testing.T) {
	policy, _ := NewPolicy("proportion")

	snap := snapWith(
		[]*model.SessionInfo{
			ssnInfo("s1", 1, 10, 1, 0),
			ssnInfo("s2", 2, 10, 1, 0),
		},
		idleExecutors(1),
		&model.AppInfo{Name: "app", MaxInstances: 1},
	)

	alloc := policy.Allocate(snap)
	require.Equal(t, 1, alloc.Desired["s1"])
	require.Equal(t, 0, alloc.Desired["s2"])
	require.Equal(t, []model.SessionID{"s2"}, alloc.Starved)
}

func TestUnknownPolicy(t *testing.T) {
	_, err := NewPolicy("lottery")
	require.Error(t, err)
}
