// Package platform resolves user queries into tracks and tracks into direct
// stream URLs through a set of pluggable sources.
package platform

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"music-orchestrator/internal/track"
)

var (
	// ErrNoSource is returned when no registered source accepts a query.
	ErrNoSource = errors.New("no source can handle query")
	// ErrNoResults is returned when a search matched nothing.
	ErrNoResults = errors.New("no results")
)

// Source is one platform able to look up and stream tracks.
type Source interface {
	// Name returns the platform name, also stored in track.Track.Source.
	Name() string
	// CanHandle reports whether the source understands query.
	CanHandle(query string) bool
	// Resolve looks up the track matching query.
	Resolve(ctx context.Context, query string) (*track.Track, error)
	// StreamURL returns a direct media URL for t.
	StreamURL(ctx context.Context, t *track.Track) (string, error)
}

// Registry holds the registered sources in priority order.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewRegistry creates a registry holding sources.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// Register appends a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// Find returns the first source accepting query.
func (r *Registry) Find(query string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.CanHandle(query) {
			return s, true
		}
	}
	return nil, false
}

// ByName returns the source called name.
func (r *Registry) ByName(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Platforms lists the registered source names.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve looks query up with the first source that accepts it.
func (r *Registry) Resolve(ctx context.Context, query string) (*track.Track, error) {
	s, ok := r.Find(query)
	if !ok {
		return nil, errors.Wrapf(ErrNoSource, "%q", query)
	}
	t, err := s.Resolve(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", s.Name())
	}
	if t.Source == "" {
		t.Source = s.Name()
	}
	return t, nil
}

// StreamURL asks the source that produced t for a media URL.
func (r *Registry) StreamURL(ctx context.Context, t *track.Track) (string, error) {
	s, ok := r.ByName(t.Source)
	if !ok {
		if s, ok = r.Find(t.URI); !ok {
			return "", errors.Wrapf(ErrNoSource, "track %s", t.Identifier)
		}
	}
	return s.StreamURL(ctx, t)
}
