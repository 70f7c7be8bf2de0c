package simulated

import (
	"context"
	"testing"
	"time"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/track"
)

func fastNode(t *testing.T) *Node {
	t.Helper()
	n := New(Config{
		LoadDelay:    time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		Speed:        100,
		Fail: func(t *track.Track) bool {
			return t.Identifier == "broken"
		},
	})
	t.Cleanup(n.Close)
	return n
}

func nextLifecycle(t *testing.T, n *Node) backend.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-n.Events():
			if _, tick := ev.(backend.PositionTick); tick {
				continue
			}
			return ev
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func TestPlaysToEnd(t *testing.T) {
	n := fastNode(t)
	l, _ := n.Link("g1")
	a := &track.Track{Identifier: "a", Length: 2 * time.Second}

	if err := l.Start(context.Background(), a, 100); err != nil {
		t.Fatal(err)
	}

	if ev, ok := nextLifecycle(t, n).(backend.Started); !ok || ev.Track != a {
		t.Fatalf("expected Started, got %#v", ev)
	}
	ev, ok := nextLifecycle(t, n).(backend.Ended)
	if !ok || ev.Reason != backend.EndFinished {
		t.Fatalf("expected Ended FINISHED, got %#v", ev)
	}
}

func TestLoadFailure(t *testing.T) {
	n := fastNode(t)
	l, _ := n.Link("g1")

	if err := l.Start(context.Background(), &track.Track{Identifier: "broken"}, 100); err != nil {
		t.Fatal(err)
	}
	ev, ok := nextLifecycle(t, n).(backend.Ended)
	if !ok || ev.Reason != backend.EndLoadFailed {
		t.Fatalf("expected Ended LOAD_FAILED, got %#v", ev)
	}
}

func TestReplaceAndStop(t *testing.T) {
	n := fastNode(t)
	ctx := context.Background()
	l, _ := n.Link("g1")

	a := &track.Track{Identifier: "a"}
	b := &track.Track{Identifier: "b"}
	if err := l.Start(ctx, a, 100); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(ctx, b, 100); err != nil {
		t.Fatal(err)
	}

	seen := map[string]backend.Event{}
	for seen["ended:a"] == nil || seen["started:b"] == nil {
		ev := nextLifecycle(t, n)
		switch e := ev.(type) {
		case backend.Ended:
			seen["ended:"+e.Track.Identifier] = e
		case backend.Started:
			seen["started:"+e.Track.Identifier] = e
		}
	}
	if e, ok := seen["ended:a"].(backend.Ended); !ok || e.Reason != backend.EndReplaced {
		t.Errorf("expected a REPLACED, got %#v", seen["ended:a"])
	}

	if err := l.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	ev, ok := nextLifecycle(t, n).(backend.Ended)
	if !ok || ev.Reason != backend.EndStopped {
		t.Fatalf("expected Ended STOPPED, got %#v", ev)
	}
}

func TestPauseHoldsPosition(t *testing.T) {
	n := New(Config{LoadDelay: time.Millisecond, TickInterval: 5 * time.Millisecond, Speed: 1})
	t.Cleanup(n.Close)
	ctx := context.Background()
	l, _ := n.Link("g1")

	if err := l.Start(ctx, &track.Track{Identifier: "a", Length: time.Hour}, 100); err != nil {
		t.Fatal(err)
	}
	nextLifecycle(t, n)

	if err := l.SetPaused(ctx, true); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	// drain ticks that raced the pause
	for len(n.events) > 0 {
		<-n.events
	}

	select {
	case ev := <-n.Events():
		t.Errorf("expected no ticks while paused, got %#v", ev)
	case <-time.After(30 * time.Millisecond):
	}

	if err := l.SetPaused(ctx, false); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-n.Events():
		if _, ok := ev.(backend.PositionTick); !ok {
			t.Errorf("expected tick after resume, got %#v", ev)
		}
	case <-time.After(time.Second):
		t.Error("expected ticks after resume")
	}
}

func TestCloseIsSilent(t *testing.T) {
	n := fastNode(t)
	ctx := context.Background()
	l, _ := n.Link("g1")

	if err := l.Start(ctx, &track.Track{Identifier: "a"}, 100); err != nil {
		t.Fatal(err)
	}
	nextLifecycle(t, n)
	if err := l.Close(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	for len(n.events) > 0 {
		if ev := <-n.events; ev.Type() != "position" {
			t.Errorf("expected no lifecycle event after close, got %#v", ev)
		}
	}
}
