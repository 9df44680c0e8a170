package realtime

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Member that records every frame it accepts.
type recorder struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newRecorder(id string) *recorder { return &recorder{id: id} }

func (r *recorder) ID() string { return r.id }

func (r *recorder) Offer(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.frames = append(r.frames, frame)
	return true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	g := ThreadGroup(1)
	m := newRecorder("a")

	reg.Join(g, m)
	reg.Join(g, m)

	assert.Equal(t, 1, reg.Members(g))
	assert.Equal(t, 1, reg.Publish(g, []byte(`{}`)))
	assert.Equal(t, 1, m.count())
}

func TestRegistry_LeaveAbsentIsNoop(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	g := DashboardGroup(3)

	assert.NotPanics(t, func() { reg.Leave(g, newRecorder("ghost")) })

	m := newRecorder("a")
	reg.Join(g, m)
	reg.Leave(DashboardGroup(4), m)
	assert.Equal(t, 1, reg.Members(g))

	reg.Leave(g, m)
	reg.Leave(g, m)
	assert.Equal(t, 0, reg.Members(g))
	assert.Equal(t, 0, reg.Groups(), "empty groups are dropped")
}

func TestRegistry_PublishToEmptyGroup(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	assert.Equal(t, 0, reg.Publish(ThreadGroup(77), []byte(`{}`)))
}

func TestRegistry_PublishHasNoBacklog(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	g := ThreadGroup(1)

	early := newRecorder("early")
	reg.Join(g, early)
	reg.Publish(g, []byte(`1`))

	late := newRecorder("late")
	reg.Join(g, late)
	reg.Publish(g, []byte(`2`))

	assert.Equal(t, 2, early.count())
	assert.Equal(t, 1, late.count())
}

func TestRegistry_FullMemberDoesNotStallSiblings(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	g := ThreadGroup(1)

	slow := newRecorder("slow")
	slow.full = true
	fast := newRecorder("fast")
	reg.Join(g, slow)
	reg.Join(g, fast)

	assert.Equal(t, 1, reg.Publish(g, []byte(`{}`)))
	assert.Equal(t, 1, fast.count())
	assert.Equal(t, 0, slow.count())
}

// Random join/leave sequences: a publish reaches exactly the current members.
func TestRegistry_PublishReachesExactlyCurrentMembers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	groups := []Group{ThreadGroup(1), ThreadGroup(2), DashboardGroup(1)}

	for round := 0; round < 50; round++ {
		reg := NewRegistry(zerolog.Nop())
		members := make([]*recorder, 8)
		for i := range members {
			members[i] = newRecorder(fmt.Sprintf("m%d", i))
		}
		joined := map[Group]map[string]bool{}
		for _, g := range groups {
			joined[g] = map[string]bool{}
		}

		for step := 0; step < 40; step++ {
			g := groups[rng.Intn(len(groups))]
			m := members[rng.Intn(len(members))]
			if rng.Intn(2) == 0 {
				reg.Join(g, m)
				joined[g][m.id] = true
			} else {
				reg.Leave(g, m)
				delete(joined[g], m.id)
			}
		}

		target := groups[rng.Intn(len(groups))]
		before := make(map[string]int, len(members))
		for _, m := range members {
			before[m.id] = m.count()
		}

		delivered := reg.Publish(target, []byte(`{}`))
		require.Equal(t, len(joined[target]), delivered)
		for _, m := range members {
			want := 0
			if joined[target][m.id] {
				want = 1
			}
			assert.Equal(t, want, m.count()-before[m.id], "round %d member %s", round, m.id)
		}
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	g := ThreadGroup(9)
	stable := newRecorder("stable")
	reg.Join(g, stable)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newRecorder(fmt.Sprintf("churn-%d", i))
			for j := 0; j < 100; j++ {
				reg.Join(g, m)
				reg.Publish(g, []byte(`{}`))
				reg.Leave(g, m)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Members(g))
	assert.Equal(t, 16*100, stable.count(), "a stable member sees every publish exactly once")
}
