package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideRepo/collection"
)

func event(t collection.ChangeType, addr string) collection.ChangeEvent {
	return collection.ChangeEvent{Type: t, Address: addr, Time: 1}
}

func drain(w *Watcher) []string {
	var out []string
	for {
		select {
		case ev, ok := <-w.Ch:
			if !ok {
				return out
			}
			out = append(out, string(ev.Type)+":"+ev.Address)
		default:
			return out
		}
	}
}

func TestHubRoutesByPrefix(t *testing.T) {
	h := NewWatchHub()
	all := h.Watch("", 8)
	short := h.Watch("c1", 8)
	long := h.Watch("c1ab", 8)
	other := h.Watch("c2", 8)
	assert.Equal(t, int64(4), h.Count())

	h.Notify(event(collection.ChangeCreated, "c1ab01"))
	h.Notify(event(collection.ChangeUpdated, "c1ff"))
	h.Notify(event(collection.ChangeDeleted, "c3"))

	assert.Equal(t, []string{"created:c1ab01", "updated:c1ff", "deleted:c3"}, drain(all))
	assert.Equal(t, []string{"created:c1ab01", "updated:c1ff"}, drain(short))
	assert.Equal(t, []string{"created:c1ab01"}, drain(long))
	assert.Empty(t, drain(other))
}

func TestHubFiltersByType(t *testing.T) {
	h := NewWatchHub()
	w := h.Watch("", 8, collection.ChangeDeleted)

	h.Notify(event(collection.ChangeCreated, "a"))
	h.Notify(event(collection.ChangeDeleted, "a"))
	assert.Equal(t, []string{"deleted:a"}, drain(w))
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewWatchHub()
	w := h.Watch("a", 1)

	h.Notify(event(collection.ChangeCreated, "a1"))
	h.Notify(event(collection.ChangeCreated, "a2"))
	assert.Equal(t, []string{"created:a1"}, drain(w))
	assert.Equal(t, uint64(1), h.Dropped())
}

func TestHubUnregisterAndClose(t *testing.T) {
	h := NewWatchHub()
	a := h.Watch("x", 1)
	b := h.Watch("x", 1)
	c := h.Watch("", 1)

	h.Unregister(a)
	h.Unregister(a)
	_, open := <-a.Ch
	assert.False(t, open)
	assert.Equal(t, int64(2), h.Count())

	h.Notify(event(collection.ChangeCreated, "x1"))
	assert.Equal(t, []string{"created:x1"}, drain(b))

	h.Close()
	assert.Equal(t, int64(0), h.Count())
	for _, w := range []*Watcher{b, c} {
		drain(w)
		_, open := <-w.Ch
		assert.False(t, open)
	}
	// 关闭后通知不会 panic
	h.Notify(event(collection.ChangeCreated, "x1"))
}

func TestEventJSON(t *testing.T) {
	ev := collection.ChangeEvent{Type: collection.ChangeUpdated, Address: "c1", Revision: 3, Time: 9}
	s, err := EventToJSON(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"updated","address":"c1","revision":3,"time":9}`, s)

	got, err := ParseEventFromJSON(s)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}
