package player

// Outcome describes what a command did. Semantic no-ops such as pausing an
// already paused player are outcomes, not errors.
type Outcome string

const (
	AddedToQueue   Outcome = "ADDED_TO_QUEUE"
	PlayingNow     Outcome = "PLAYING_NOW"
	Skipped        Outcome = "SKIPPED"
	NoNext         Outcome = "NO_NEXT"
	PlayingPrev    Outcome = "PREVIOUS"
	NoPrevious     Outcome = "NO_PREVIOUS"
	Jumped         Outcome = "JUMPED"
	InvalidJump    Outcome = "INVALID_JUMP"
	PausedOutcome  Outcome = "PAUSED"
	AlreadyPaused  Outcome = "ALREADY_PAUSED"
	Resumed        Outcome = "RESUMED"
	AlreadyPlaying Outcome = "ALREADY_PLAYING"
	NotPlaying     Outcome = "NOT_PLAYING"
	StoppedOutcome Outcome = "STOPPED"
	AlreadyStopped Outcome = "ALREADY_STOPPED"
	Shuffled       Outcome = "SHUFFLED"
	RepeatOn       Outcome = "REPEAT_ON"
	RepeatOff      Outcome = "REPEAT_OFF"
	VolumeSet      Outcome = "VOLUME_SET"
	QueueCleared   Outcome = "QUEUE_CLEARED"
	QueueEmpty     Outcome = "QUEUE_EMPTY"
	LoadFailed     Outcome = "LOAD_FAILED"
)

// String returns the wire name of the outcome.
func (o Outcome) String() string {
	return string(o)
}
