package buffer

import (
	"context"
	"testing"
	"time"
)

func collect(t *testing.T, out <-chan []byte) [][]byte {
	t.Helper()
	var got [][]byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-timeout:
			t.Fatal("timed out waiting for output to close")
		}
	}
}

func TestPassthroughKeepsOrder(t *testing.T) {
	in := make(chan []byte, 4)
	for _, b := range []byte("abcd") {
		in <- []byte{b}
	}
	close(in)

	pb := NewPacedBuffer(Config{Interval: time.Millisecond, Passthrough: true})
	got := collect(t, pb.Start(context.Background(), in))

	if len(got) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(got))
	}
	for i, want := range []byte("abcd") {
		if got[i][0] != want {
			t.Errorf("chunk %d: expected %c, got %c", i, want, got[i][0])
		}
	}
}

func TestPacedReleasesAtInterval(t *testing.T) {
	in := make(chan []byte, 3)
	for i := 0; i < 3; i++ {
		in <- []byte{byte(i)}
	}
	close(in)

	pb := NewPacedBuffer(Config{Interval: 20 * time.Millisecond})
	start := time.Now()
	got := collect(t, pb.Start(context.Background(), in))

	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	// first chunk is immediate, the other two wait one interval each
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("expected pacing of about 40ms, took %v", elapsed)
	}
}

func TestMaxBufferDropsOldest(t *testing.T) {
	in := make(chan []byte, 10)
	for i := 0; i < 10; i++ {
		in <- []byte{byte(i)}
	}
	close(in)

	var dropped int
	pb := NewPacedBuffer(Config{
		Interval:    10 * time.Millisecond,
		Prebuffer:   time.Hour,
		MaxBuffer:   30 * time.Millisecond,
		Passthrough: true,
		OnDrop:      func([]byte) { dropped++ },
	})
	got := collect(t, pb.Start(context.Background(), in))

	if len(got) != 3 {
		t.Fatalf("expected 3 newest chunks, got %d", len(got))
	}
	if got[0][0] != 7 {
		t.Errorf("expected oldest kept chunk 7, got %d", got[0][0])
	}
	if dropped != 7 {
		t.Errorf("expected 7 drops, got %d", dropped)
	}
}

func TestCancelClosesOutput(t *testing.T) {
	in := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())
	out := NewPacedBuffer(DefaultConfig(128000)).Start(ctx, in)

	cancel()
	if got := collect(t, out); len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
}

func TestDurationFor(t *testing.T) {
	pb := NewPacedBuffer(Config{Bitrate: 8000, MinDelay: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond})

	if d := pb.durationFor(make([]byte, 50)); d != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", d)
	}
	if d := pb.durationFor(make([]byte, 1)); d != 5*time.Millisecond {
		t.Errorf("expected min clamp, got %v", d)
	}
	if d := pb.durationFor(make([]byte, 1000)); d != 100*time.Millisecond {
		t.Errorf("expected max clamp, got %v", d)
	}
}
