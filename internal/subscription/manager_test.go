package subscription

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestSubscribe_DeliversLatestImmediately(t *testing.T) {
	m := NewManager[int]("test", 4)

	first, err := m.Subscribe("a")
	require.NoError(t, err)
	require.Empty(t, drain(first.C), "nothing published yet")

	m.Publish(1)
	m.Publish(2)

	late, err := m.Subscribe("b")
	require.NoError(t, err)
	require.Equal(t, []int{2}, drain(late.C))
	require.Equal(t, []int{1, 2}, drain(first.C))
}

func TestSubscribe_Duplicate(t *testing.T) {
	m := NewManager[int]("test", 1)
	_, err := m.Subscribe("a")
	require.NoError(t, err)
	_, err = m.Subscribe("a")
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestUnsubscribe_IdempotentAndFinal(t *testing.T) {
	m := NewManager[int]("test", 4)
	sub, err := m.Subscribe("a")
	require.NoError(t, err)

	require.True(t, m.Unsubscribe("a"))
	require.False(t, m.Unsubscribe("a"))
	require.Equal(t, 0, m.Publish(7))

	_, ok := <-sub.C
	require.False(t, ok)
	require.NoError(t, sub.Err())
}

func TestPublish_PrunesSlowSubscriber(t *testing.T) {
	m := NewManager[int]("test", 1)
	slow, err := m.Subscribe("slow")
	require.NoError(t, err)
	fast, err := m.Subscribe("fast")
	require.NoError(t, err)

	require.Equal(t, 2, m.Publish(1))
	require.Equal(t, []int{1}, drain(fast.C))

	// slow never reads, so its single slot is still taken.
	require.Equal(t, 1, m.Publish(2))
	require.Equal(t, []int{2}, drain(fast.C))
	require.Equal(t, 1, m.Count())

	require.Equal(t, []int{1}, drain(slow.C))
	require.ErrorIs(t, slow.Err(), ErrSlowSubscriber)
}

func TestDisposeAll(t *testing.T) {
	m := NewManager[int]("test", 2)
	a, _ := m.Subscribe("a")
	b, _ := m.Subscribe("b")

	m.DisposeAll()
	m.DisposeAll()

	for _, s := range []*Subscription[int]{a, b} {
		_, ok := <-s.C
		require.False(t, ok)
		require.ErrorIs(t, s.Err(), ErrDisposed)
	}
	require.Equal(t, 0, m.Count())
	require.True(t, m.Disposed())

	_, err := m.Subscribe("c")
	require.ErrorIs(t, err, ErrDisposed)
	require.False(t, m.Unsubscribe("a"))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	m := NewManager[int]("test", 1024)
	const subscribers = 16

	subs := make([]*Subscription[int], subscribers)
	for i := range subs {
		s, err := m.Subscribe(fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		subs[i] = s
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := 1; v <= 500; v++ {
			m.Publish(v)
		}
	}()
	for i := 0; i < subscribers; i += 2 {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Unsubscribe(id)
		}(subs[i].ID)
	}
	wg.Wait()

	for _, s := range subs {
		prev := 0
		for _, v := range drain(s.C) {
			require.Greater(t, v, prev, "values arrive in publish order")
			prev = v
		}
	}
}

// Every subscriber observes a strictly increasing suffix of the published
// sequence, starting with the value current at subscription time and ending
// no later than its unsubscribe.
func TestManager_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager[int]("prop", 256)
		published := 0
		subs := map[string]*Subscription[int]{}
		firstSeen := map[string]int{}
		lastAllowed := map[string]int{}

		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 100).Draw(t, "ops")
		for i, op := range ops {
			switch op {
			case 0:
				id := fmt.Sprintf("s%d", i)
				s, err := m.Subscribe(id)
				if err != nil {
					t.Fatalf("subscribe: %v", err)
				}
				subs[id] = s
				firstSeen[id] = published
				lastAllowed[id] = -1
			case 1:
				published++
				m.Publish(published)
			case 2:
				for id := range subs {
					if lastAllowed[id] == -1 {
						m.Unsubscribe(id)
						lastAllowed[id] = published
						break
					}
				}
			}
		}

		for id, s := range subs {
			got := drain(s.C)
			want := []int{}
			end := lastAllowed[id]
			if end == -1 {
				end = published
			}
			start := firstSeen[id]
			if start == 0 {
				start = 1
			}
			for v := start; v <= end; v++ {
				want = append(want, v)
			}
			if len(got) != len(want) {
				t.Fatalf("%s: got %v want %v", id, got, want)
			}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("%s: got %v want %v", id, got, want)
				}
			}
		}
	})
}
