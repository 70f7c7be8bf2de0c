package platform

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"music-orchestrator/internal/track"
)

type stubSource struct {
	name   string
	prefix string
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) CanHandle(q string) bool { return strings.HasPrefix(q, s.prefix) }

func (s stubSource) Resolve(_ context.Context, q string) (*track.Track, error) {
	if strings.HasSuffix(q, "missing") {
		return nil, ErrNoResults
	}
	return &track.Track{Identifier: strings.TrimPrefix(q, s.prefix), URI: q}, nil
}

func (s stubSource) StreamURL(_ context.Context, t *track.Track) (string, error) {
	return "https://" + s.name + ".cdn/" + t.Identifier, nil
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(stubSource{name: "alpha", prefix: "a:"})
	r.Register(stubSource{name: "beta", prefix: "b:"})

	tr, err := r.Resolve(context.Background(), "b:song")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Identifier != "song" || tr.Source != "beta" {
		t.Errorf("expected beta/song, got %s/%s", tr.Source, tr.Identifier)
	}

	url, err := r.StreamURL(context.Background(), tr)
	if err != nil || url != "https://beta.cdn/song" {
		t.Errorf("expected beta stream url, got %q %v", url, err)
	}

	if _, err := r.Resolve(context.Background(), "c:song"); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "a:missing"); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}

func TestRegistry_StreamURLFallsBackToURI(t *testing.T) {
	r := NewRegistry(stubSource{name: "alpha", prefix: "a:"})

	url, err := r.StreamURL(context.Background(), &track.Track{Identifier: "x", URI: "a:x"})
	if err != nil || url != "https://alpha.cdn/x" {
		t.Errorf("expected alpha stream url, got %q %v", url, err)
	}
	if _, err := r.StreamURL(context.Background(), &track.Track{Identifier: "y", URI: "z:y"}); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestRegistry_Platforms(t *testing.T) {
	r := NewRegistry(stubSource{name: "alpha"}, stubSource{name: "beta"})
	got := r.Platforms()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("expected [alpha beta], got %v", got)
	}
	if _, ok := r.ByName("gamma"); ok {
		t.Error("expected no gamma source")
	}
}
