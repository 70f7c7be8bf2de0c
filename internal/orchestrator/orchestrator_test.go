package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/mock/gomock"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/backend/mock"
	"music-orchestrator/internal/player"
	"music-orchestrator/internal/registry"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

type fakeResolver struct {
	queries []string
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, query string) (*track.Track, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	id := strings.TrimPrefix(query, DefaultSearchPrefix)
	return &track.Track{Identifier: id, Title: id, Length: 3 * time.Minute}, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *mock.MockLink, *fakeResolver, *registry.Registry) {
	t.Helper()
	ctrl := gomock.NewController(t)
	link := mock.NewMockLink(ctrl)
	link.EXPECT().Close(gomock.Any()).Return(nil).AnyTimes()

	store := state.NewStore()
	reg := registry.New(backend.FactoryFunc(func(string) (backend.Link, error) {
		return link, nil
	}), store)
	res := &fakeResolver{}
	return New(reg, store, res, time.Second), link, res, reg
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"never gonna give you up", "ytsearch:never gonna give you up"},
		{"  lofi beats ", "ytsearch:lofi beats"},
		{"ytsearch:already", "ytsearch:already"},
		{"scsearch:cloud", "scsearch:cloud"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ"},
		{"https://soundcloud.com/artist/song", "https://soundcloud.com/artist/song"},
		{"https://example.com/song.mp3", "ytsearch:https://example.com/song.mp3"},
	}

	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestPlay_ResolvesAndStarts(t *testing.T) {
	o, link, res, reg := newTestOrchestrator(t)
	ctx := context.Background()

	link.EXPECT().Start(gomock.Any(), gomock.Any(), player.DefaultVolume).Return(nil)

	who := &track.Requester{UserID: "u1", DisplayName: "Ann"}
	r, err := o.Play(ctx, "g1", "song a", who)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Outcome != player.PlayingNow {
		t.Errorf("expected PLAYING_NOW, got %s", r.Outcome)
	}
	if res.queries[0] != "ytsearch:song a" {
		t.Errorf("expected normalized query, got %q", res.queries[0])
	}
	if r.Track.Requester == nil || r.Track.Requester.UserID != "u1" {
		t.Error("expected requester attached to track")
	}
	if !reg.Exists("g1") {
		t.Error("expected session created by play")
	}

	r, err = o.Play(ctx, "g1", "song b", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Outcome != player.AddedToQueue {
		t.Errorf("expected ADDED_TO_QUEUE, got %s", r.Outcome)
	}
}

func TestPlay_EmptyQuery(t *testing.T) {
	o, _, res, reg := newTestOrchestrator(t)

	if _, err := o.Play(context.Background(), "g1", "  ", nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if len(res.queries) != 0 {
		t.Error("expected resolver not to be called")
	}
	if reg.Exists("g1") {
		t.Error("expected no session for an empty query")
	}
}

func TestPlay_ResolveFailure(t *testing.T) {
	o, _, res, reg := newTestOrchestrator(t)
	errNoMatch := errors.New("no match")
	res.err = errNoMatch

	if _, err := o.Play(context.Background(), "g1", "zzz", nil); !errors.Is(err, errNoMatch) {
		t.Errorf("expected resolve error, got %v", err)
	}
	if reg.Exists("g1") {
		t.Error("expected no session after failed resolve")
	}
}

func TestCommands_UnknownSession(t *testing.T) {
	o, _, _, reg := newTestOrchestrator(t)
	ctx := context.Background()

	cmds := map[string]func() (Result, error){
		"skip":     func() (Result, error) { return o.Skip(ctx, "nope") },
		"previous": func() (Result, error) { return o.Previous(ctx, "nope") },
		"pause":    func() (Result, error) { return o.Pause(ctx, "nope") },
		"resume":   func() (Result, error) { return o.Resume(ctx, "nope") },
		"jump":     func() (Result, error) { return o.JumpToTrack(ctx, "nope", "c:x") },
		"shuffle":  func() (Result, error) { return o.Shuffle(ctx, "nope") },
		"repeat":   func() (Result, error) { return o.ToggleRepeat(ctx, "nope") },
		"volume":   func() (Result, error) { return o.SetVolume(ctx, "nope", 50) },
		"clear":    func() (Result, error) { return o.ClearQueue(ctx, "nope") },
	}
	for name, fn := range cmds {
		if _, err := fn(); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("%s: expected ErrSessionNotFound, got %v", name, err)
		}
	}
	if _, err := o.Status("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("status: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := o.JumpOptions("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("jump options: expected ErrSessionNotFound, got %v", err)
	}

	r, err := o.Stop(ctx, "nope")
	if err != nil || r.Outcome != player.AlreadyStopped {
		t.Errorf("expected ALREADY_STOPPED, got %s %v", r.Outcome, err)
	}
	if reg.Exists("nope") {
		t.Error("expected commands not to create sessions")
	}
}

func TestSkipAndStatus(t *testing.T) {
	o, link, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	gomock.InOrder(
		link.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
		link.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil),
	)
	link.EXPECT().Stop(gomock.Any()).Return(nil).AnyTimes()

	if _, err := o.Play(ctx, "g1", "a", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Play(ctx, "g1", "b", nil); err != nil {
		t.Fatal(err)
	}

	r, err := o.Skip(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Outcome != player.Skipped || r.Track == nil || r.Track.Identifier != "b" {
		t.Errorf("expected skip to b, got %s %+v", r.Outcome, r.Track)
	}

	ui, err := o.Status("g1")
	if err != nil {
		t.Fatal(err)
	}
	if ui.Current == nil || ui.Current.Identifier != "b" {
		t.Errorf("expected status current b, got %+v", ui.Current)
	}
	if len(ui.History) != 1 || ui.History[0].Identifier != "a" {
		t.Errorf("expected history [a], got %+v", ui.History)
	}

	opts, err := o.JumpOptions("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 2 {
		t.Errorf("expected 2 jump options, got %d", len(opts))
	}

	pos, err := o.Position("g1")
	if err != nil {
		t.Fatal(err)
	}
	if pos.LengthMs != (3 * time.Minute).Milliseconds() {
		t.Errorf("expected length of b, got %d", pos.LengthMs)
	}
}

func TestRepeatAndVolume(t *testing.T) {
	o, link, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	link.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	if _, err := o.Play(ctx, "g1", "a", nil); err != nil {
		t.Fatal(err)
	}

	r, _ := o.ToggleRepeat(ctx, "g1")
	if r.Outcome != player.RepeatOn {
		t.Errorf("expected REPEAT_ON, got %s", r.Outcome)
	}
	on, err := o.Repeat("g1")
	if err != nil || !on {
		t.Errorf("expected repeat on, got %v %v", on, err)
	}

	r, _ = o.SetVolume(ctx, "g1", 500)
	if r.Outcome != player.VolumeSet {
		t.Errorf("expected VOLUME_SET, got %s", r.Outcome)
	}
	ui, _ := o.Status("g1")
	if ui.Volume != player.MaxVolume {
		t.Errorf("expected clamped volume %d, got %d", player.MaxVolume, ui.Volume)
	}
}

func TestLeave(t *testing.T) {
	o, link, _, reg := newTestOrchestrator(t)
	ctx := context.Background()
	link.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	link.EXPECT().Stop(gomock.Any()).Return(nil)

	if _, err := o.Play(ctx, "g1", "a", nil); err != nil {
		t.Fatal(err)
	}
	if err := o.Leave(ctx, "g1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Exists("g1") {
		t.Error("expected session removed")
	}
	if _, err := o.Status("g1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected status gone, got %v", err)
	}

	if err := o.Leave(ctx, "g1"); err != nil {
		t.Errorf("expected leaving twice to be a no-op, got %v", err)
	}
}

func TestCommandSurvivesCallerCancel(t *testing.T) {
	o, link, _, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	link.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *track.Track, _ int) error {
			return ctx.Err()
		})

	r, err := o.Play(ctx, "g1", "a", nil)
	if err != nil {
		t.Fatalf("expected command to run detached, got %v", err)
	}
	if r.Outcome != player.PlayingNow {
		t.Errorf("expected PLAYING_NOW, got %s", r.Outcome)
	}
}
