package player

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/mock/gomock"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/backend/mock"
	"music-orchestrator/internal/state"
	"music-orchestrator/internal/track"
)

var errBoom = errors.New("boom")

func song(id string, ms int64) *track.Track {
	return &track.Track{Identifier: id, Title: id, Length: time.Duration(ms) * time.Millisecond}
}

func newTestPlayer(t *testing.T) (*Player, *mock.MockLink, *state.Store) {
	t.Helper()
	ctrl := gomock.NewController(t)
	link := mock.NewMockLink(ctrl)
	store := state.NewStore()
	return New("guild-1", link, store), link, store
}

// startPlaying plays the first track, confirms its start and queues the rest.
func startPlaying(t *testing.T, p *Player, link *mock.MockLink, tracks ...*track.Track) {
	t.Helper()
	ctx := context.Background()

	link.EXPECT().Start(gomock.Any(), tracks[0], DefaultVolume).Return(nil)
	if out, err := p.Play(ctx, tracks[0]); err != nil || out != PlayingNow {
		t.Fatalf("expected PLAYING_NOW, got %s (err %v)", out, err)
	}
	p.OnStart(tracks[0])

	for _, tr := range tracks[1:] {
		if out, err := p.Play(ctx, tr); err != nil || out != AddedToQueue {
			t.Fatalf("expected ADDED_TO_QUEUE, got %s (err %v)", out, err)
		}
	}
	if p.State() != state.Playing {
		t.Fatalf("expected playing, got %s", p.State())
	}
}

func currentID(p *Player) string {
	cur, ok := p.Scheduler().Current()
	if !ok {
		return ""
	}
	return cur.Identifier
}

func TestNew_PublishesStoppedSnapshot(t *testing.T) {
	_, _, store := newTestPlayer(t)

	ui, ok := store.UI("guild-1")
	if !ok {
		t.Fatal("expected initial snapshot")
	}
	if ui.State != state.Stopped {
		t.Errorf("expected stopped, got %s", ui.State)
	}
	if ui.Volume != DefaultVolume {
		t.Errorf("expected volume %d, got %d", DefaultVolume, ui.Volume)
	}
}

func TestPlay_FromStoppedStartsTrack(t *testing.T) {
	p, link, store := newTestPlayer(t)
	a := song("A", 180000)

	link.EXPECT().Start(gomock.Any(), a, DefaultVolume).Return(nil)

	out, err := p.Play(context.Background(), a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != PlayingNow {
		t.Errorf("expected PLAYING_NOW, got %s", out)
	}
	if p.State() != state.Loading {
		t.Errorf("expected loading, got %s", p.State())
	}

	ui, _ := store.UI("guild-1")
	if ui.Current == nil || ui.Current.Identifier != "A" {
		t.Errorf("expected current A in snapshot, got %v", ui.Current)
	}

	p.OnStart(a)
	if p.State() != state.Playing {
		t.Errorf("expected playing after start event, got %s", p.State())
	}
}

func TestPlay_WhilePlayingAppends(t *testing.T) {
	p, link, store := newTestPlayer(t)
	startPlaying(t, p, link, song("A", 1000), song("B", 1000), song("C", 1000))

	ui, _ := store.UI("guild-1")
	if len(ui.Queue) != 2 || ui.Queue[0].Identifier != "B" || ui.Queue[1].Identifier != "C" {
		t.Errorf("expected queue [B C], got %v", ui.Queue)
	}
}

func TestPlay_WhilePausedStartsNewTrack(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a, b := song("A", 1000), song("B", 1000)
	startPlaying(t, p, link, a)

	link.EXPECT().SetPaused(gomock.Any(), true).Return(nil)
	if _, err := p.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}

	link.EXPECT().Start(gomock.Any(), b, DefaultVolume).Return(nil)
	out, err := p.Play(context.Background(), b)
	if err != nil || out != PlayingNow {
		t.Fatalf("expected PLAYING_NOW, got %s (err %v)", out, err)
	}
	if currentID(p) != "B" {
		t.Errorf("expected current B, got %s", currentID(p))
	}
	hist := p.Scheduler().History()
	if len(hist) != 1 || hist[0].Identifier != "A" {
		t.Errorf("expected history [A], got %v", hist)
	}
}

func TestPlayNow_SkipsToTrack(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a, b, x := song("A", 1000), song("B", 1000), song("X", 1000)
	startPlaying(t, p, link, a, b)

	link.EXPECT().Start(gomock.Any(), x, DefaultVolume).Return(nil)
	out, err := p.PlayNow(context.Background(), x)
	if err != nil || out != PlayingNow {
		t.Fatalf("expected PLAYING_NOW, got %s (err %v)", out, err)
	}
	if currentID(p) != "X" {
		t.Errorf("expected current X, got %s", currentID(p))
	}
	q := p.Scheduler().Queue()
	if len(q) != 1 || q[0].Identifier != "B" {
		t.Errorf("expected queue [B], got %v", q)
	}
}

func TestPause_OneBackendCall(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	startPlaying(t, p, link, song("A", 1000))

	link.EXPECT().SetPaused(gomock.Any(), true).Return(nil).Times(1)

	out, err := p.Pause(context.Background())
	if err != nil || out != PausedOutcome {
		t.Fatalf("expected PAUSED, got %s (err %v)", out, err)
	}
	if p.State() != state.Paused {
		t.Errorf("expected paused, got %s", p.State())
	}

	out, err = p.Pause(context.Background())
	if err != nil || out != AlreadyPaused {
		t.Errorf("expected ALREADY_PAUSED, got %s (err %v)", out, err)
	}
}

func TestPause_RollbackOnBackendFailure(t *testing.T) {
	p, link, store := newTestPlayer(t)
	startPlaying(t, p, link, song("A", 1000))

	link.EXPECT().SetPaused(gomock.Any(), true).Return(errBoom)

	_, err := p.Pause(context.Background())
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected cause to be kept, got %v", err)
	}
	if p.State() != state.Playing {
		t.Errorf("expected rollback to playing, got %s", p.State())
	}
	ui, _ := store.UI("guild-1")
	if ui.State != state.Playing {
		t.Errorf("expected published rollback, got %s", ui.State)
	}
}

func TestResume(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	startPlaying(t, p, link, song("A", 1000))

	out, err := p.Resume(context.Background())
	if err != nil || out != AlreadyPlaying {
		t.Fatalf("expected ALREADY_PLAYING, got %s (err %v)", out, err)
	}

	link.EXPECT().SetPaused(gomock.Any(), true).Return(nil)
	link.EXPECT().SetPaused(gomock.Any(), false).Return(errBoom)
	if _, err := p.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Resume(context.Background()); !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if p.State() != state.Paused {
		t.Errorf("expected rollback to paused, got %s", p.State())
	}

	link.EXPECT().SetPaused(gomock.Any(), false).Return(nil)
	out, err = p.Resume(context.Background())
	if err != nil || out != Resumed {
		t.Errorf("expected RESUMED, got %s (err %v)", out, err)
	}
	if p.State() != state.Playing {
		t.Errorf("expected playing, got %s", p.State())
	}
}

func TestPause_WhenStopped(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	out, err := p.Pause(context.Background())
	if err != nil || out != NotPlaying {
		t.Errorf("expected NOT_PLAYING, got %s (err %v)", out, err)
	}
}

func TestResume_FromStoppedWithoutTracks(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	out, err := p.Resume(context.Background())
	if err != nil || out != QueueEmpty {
		t.Errorf("expected QUEUE_EMPTY, got %s (err %v)", out, err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	p, link, store := newTestPlayer(t)
	startPlaying(t, p, link, song("A", 1000), song("B", 1000))
	p.UpdatePosition(5000)

	link.EXPECT().Stop(gomock.Any()).Return(nil).Times(1)

	out, err := p.Stop(context.Background())
	if err != nil || out != StoppedOutcome {
		t.Fatalf("expected STOPPED, got %s (err %v)", out, err)
	}
	if !p.Scheduler().IsEmpty() {
		t.Error("expected scheduler cleared")
	}
	if p.PositionMs() != 0 {
		t.Errorf("expected position reset, got %d", p.PositionMs())
	}
	pos, _ := store.Position("guild-1")
	if pos.PositionMs != 0 {
		t.Errorf("expected published position 0, got %d", pos.PositionMs)
	}

	out, err = p.Stop(context.Background())
	if err != nil || out != AlreadyStopped {
		t.Errorf("expected ALREADY_STOPPED, got %s (err %v)", out, err)
	}
}

func TestSkipScenario(t *testing.T) {
	p, link, store := newTestPlayer(t)
	songA, songB := song("SongA", 180000), song("SongB", 200000)
	startPlaying(t, p, link, songA, songB)

	link.EXPECT().Start(gomock.Any(), songB, DefaultVolume).Return(nil)
	out, err := p.Skip(context.Background())
	if err != nil || out != Skipped {
		t.Fatalf("expected SKIPPED, got %s (err %v)", out, err)
	}
	if currentID(p) != "SongB" {
		t.Errorf("expected current SongB, got %s", currentID(p))
	}
	pos, _ := store.Position("guild-1")
	if pos.LengthMs != 200000 {
		t.Errorf("expected length 200000, got %d", pos.LengthMs)
	}
	p.OnStart(songB)

	link.EXPECT().Stop(gomock.Any()).Return(nil)
	out, err = p.Skip(context.Background())
	if err != nil || out != NoNext {
		t.Fatalf("expected NO_NEXT, got %s (err %v)", out, err)
	}
	if p.State() != state.Stopped {
		t.Errorf("expected stopped, got %s", p.State())
	}
}

func TestPrevious(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a, b := song("A", 1000), song("B", 1000)
	startPlaying(t, p, link, a, b)

	link.EXPECT().Start(gomock.Any(), b, DefaultVolume).Return(nil)
	if _, err := p.Skip(context.Background()); err != nil {
		t.Fatal(err)
	}

	link.EXPECT().Start(gomock.Any(), a, DefaultVolume).Return(nil)
	out, err := p.Previous(context.Background())
	if err != nil || out != PlayingPrev {
		t.Fatalf("expected PREVIOUS, got %s (err %v)", out, err)
	}
	if currentID(p) != "A" {
		t.Errorf("expected current A, got %s", currentID(p))
	}

	link.EXPECT().Stop(gomock.Any()).Return(nil)
	out, err = p.Previous(context.Background())
	if err != nil || out != NoPrevious {
		t.Errorf("expected NO_PREVIOUS, got %s (err %v)", out, err)
	}
}

func TestStart_FailureAdvancesToNextTrack(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a, b, c := song("A", 1000), song("B", 1000), song("C", 1000)
	startPlaying(t, p, link, a, b, c)

	gomock.InOrder(
		link.EXPECT().Start(gomock.Any(), b, DefaultVolume).Return(errBoom),
		link.EXPECT().Start(gomock.Any(), c, DefaultVolume).Return(nil),
	)

	out, err := p.Skip(context.Background())
	if err != nil || out != Skipped {
		t.Fatalf("expected SKIPPED, got %s (err %v)", out, err)
	}
	if currentID(p) != "C" {
		t.Errorf("expected current C, got %s", currentID(p))
	}
	if p.State() != state.Loading {
		t.Errorf("expected loading, got %s", p.State())
	}
}

func TestStart_FailureWithNothingLeftEntersError(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a := song("A", 1000)

	link.EXPECT().Start(gomock.Any(), a, DefaultVolume).Return(errBoom)

	out, err := p.Play(context.Background(), a)
	if out != LoadFailed {
		t.Errorf("expected LOAD_FAILED, got %s", out)
	}
	if !errors.Is(err, ErrBackend) {
		t.Errorf("expected ErrBackend, got %v", err)
	}
	if p.State() != state.Error {
		t.Errorf("expected error state, got %s", p.State())
	}
}

func TestJumpToTrack(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a, b, c := song("A", 1000), song("B", 1000), song("C", 1000)
	startPlaying(t, p, link, a, b, c)

	out, err := p.JumpToTrack(context.Background(), "q:5:missing")
	if err != nil || out != InvalidJump {
		t.Fatalf("expected INVALID_JUMP, got %s (err %v)", out, err)
	}
	if currentID(p) != "A" || p.State() != state.Playing {
		t.Errorf("expected playback untouched, got %s/%s", currentID(p), p.State())
	}

	link.EXPECT().Start(gomock.Any(), c, DefaultVolume).Return(nil)
	out, err = p.JumpToTrack(context.Background(), "q:1:C")
	if err != nil || out != Jumped {
		t.Fatalf("expected JUMPED, got %s (err %v)", out, err)
	}
	if currentID(p) != "C" {
		t.Errorf("expected current C, got %s", currentID(p))
	}
}

func TestShuffleRepeatVolumeClear(t *testing.T) {
	p, link, store := newTestPlayer(t)
	startPlaying(t, p, link, song("A", 1000), song("B", 1000), song("C", 1000))

	if out := p.Shuffle(); out != Shuffled {
		t.Errorf("expected SHUFFLED, got %s", out)
	}
	if currentID(p) != "A" {
		t.Errorf("expected shuffle to keep current A, got %s", currentID(p))
	}

	if out := p.ToggleRepeat(); out != RepeatOn {
		t.Errorf("expected REPEAT_ON, got %s", out)
	}
	if out := p.ToggleRepeat(); out != RepeatOff {
		t.Errorf("expected REPEAT_OFF, got %s", out)
	}

	p.SetVolume(500)
	if p.Volume() != MaxVolume {
		t.Errorf("expected volume clamped to %d, got %d", MaxVolume, p.Volume())
	}

	if out := p.ClearQueue(); out != QueueCleared {
		t.Errorf("expected QUEUE_CLEARED, got %s", out)
	}
	if out := p.ClearQueue(); out != QueueEmpty {
		t.Errorf("expected QUEUE_EMPTY, got %s", out)
	}

	ui, _ := store.UI("guild-1")
	if ui.Volume != MaxVolume || ui.Repeat || len(ui.Queue) != 0 {
		t.Errorf("unexpected snapshot: volume=%d repeat=%v queue=%d", ui.Volume, ui.Repeat, len(ui.Queue))
	}
}

func TestClose(t *testing.T) {
	p, link, _ := newTestPlayer(t)

	link.EXPECT().Close(gomock.Any()).Return(nil).Times(1)

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}
	if _, err := p.Play(context.Background(), song("A", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestOnEnd_Replaced(t *testing.T) {
	p, link, _ := newTestPlayer(t)
	a := song("A", 1000)
	startPlaying(t, p, link, a, song("B", 1000))

	if err := p.OnEnd(context.Background(), a, backend.EndReplaced); err != nil {
		t.Fatal(err)
	}
	if currentID(p) != "A" || p.State() != state.Playing {
		t.Errorf("expected replaced to be a no-op, got %s/%s", currentID(p), p.State())
	}
}
