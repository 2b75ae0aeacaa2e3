package zookeeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Take(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		kind      WatchKind
		wantFired []WatchKind
	}{
		{name: "created", eventType: EventCreated, wantFired: []WatchKind{WatchExist}},
		{name: "changed", eventType: EventChanged, wantFired: []WatchKind{WatchData, WatchExist}},
		{name: "erased", eventType: EventErased, wantFired: []WatchKind{WatchData, WatchExist, WatchChild}},
		{name: "child", eventType: EventChild, wantFired: []WatchKind{WatchChild}},
		{name: "not watching one kind", eventType: EventNotWatching, kind: WatchData, wantFired: []WatchKind{WatchData}},
		{name: "not watching any kind", eventType: EventNotWatching, wantFired: []WatchKind{WatchData, WatchExist, WatchChild}},
		{name: "changed for data only", eventType: EventChanged, kind: WatchData, wantFired: []WatchKind{WatchData}},
		{name: "changed for exist only", eventType: EventChanged, kind: WatchExist, wantFired: []WatchKind{WatchExist}},
		{name: "erased for child only", eventType: EventErased, kind: WatchChild, wantFired: []WatchKind{WatchChild}},
		{name: "created never fires data", eventType: EventCreated, kind: WatchData},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := newRegistry()
			byKind := map[WatchKind]*Future[Event]{}
			for _, kind := range []WatchKind{WatchData, WatchExist, WatchChild} {
				fut := newFuture[Event](nil)
				byKind[kind] = fut
				r.add("/a", kind, fut)
			}
			r.add("/other", WatchData, newFuture[Event](nil))

			fired := r.take("/a", test.eventType, test.kind)
			var want []*Future[Event]
			for _, kind := range test.wantFired {
				want = append(want, byKind[kind])
			}
			assert.ElementsMatch(t, want, fired)
			assert.Equal(t, 4-len(test.wantFired), r.len())
		})
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := newRegistry()
	first := newFuture[Event](nil)
	second := newFuture[Event](nil)
	r.add("/a", WatchData, first)
	r.add("/a", WatchData, second)

	r.remove("/a", WatchData, first)
	assert.Equal(t, 1, r.len())
	assert.Equal(t, []*Future[Event]{second}, r.take("/a", EventChanged, 0))

	r.remove("/a", WatchData, second)
	assert.Equal(t, 0, r.len())
	assert.Empty(t, r.drain())
}

func TestWatch_Next(t *testing.T) {
	event, resolve := NewFuture[Event](nil)
	rearms := 0
	rearm := func(path string) *Future[*Watch[int]] {
		rearms++
		return Resolved(NewWatch(path, 2, newFuture[Event](nil), nil))
	}
	w := NewWatch("/a", 1, event, rearm)
	assert.Equal(t, "/a", w.Path())
	assert.Equal(t, 1, w.Initial)

	_, err := w.Next().Get(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArguments, "next before the event")

	resolve(Event{Type: EventChanged, Path: "/a"}, nil)
	next, err := w.Next().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, next.Initial)

	_, err = w.Next().Get(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArguments, "next twice")
	assert.Equal(t, 1, rearms)
}
