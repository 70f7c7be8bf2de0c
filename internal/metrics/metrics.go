// Package metrics declares the prometheus collectors of the orchestrator.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CommandsTotal counts orchestrator commands by name and outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_commands_total",
			Help: "Player commands handled, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	// BackendEventsTotal counts events received from the playback backend.
	BackendEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_backend_events_total",
			Help: "Playback backend events, by type",
		},
		[]string{"type"},
	)

	// BackendFailuresTotal counts rejected backend commands.
	BackendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_backend_failures_total",
			Help: "Backend commands that failed, by operation",
		},
		[]string{"op"},
	)

	// DroppedEventsTotal counts backend events that were not applied.
	DroppedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dropped_events_total",
			Help: "Backend events dropped before reaching a player, by reason",
		},
		[]string{"reason"},
	)

	// CoalescedSnapshotsTotal counts UI snapshots a slow subscriber never saw.
	CoalescedSnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_coalesced_snapshots_total",
		Help: "UI snapshots replaced by a newer one before a subscriber read them",
	})

	// UnexpectedTransitionsTotal counts state changes outside the transition table.
	UnexpectedTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_unexpected_transitions_total",
			Help: "Player state changes not listed in the transition table",
		},
		[]string{"from", "to"},
	)

	// ActiveSessions is the number of players held by the registry.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_active_sessions",
		Help: "Sessions currently held by the registry",
	})

	// AudioChunksDroppedTotal counts encoded chunks discarded by the pacer.
	AudioChunksDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_audio_chunks_dropped_total",
		Help: "Encoded audio chunks dropped because the sink fell behind",
	})

	// HistoryWritesTotal counts play records written by the history recorder.
	HistoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_history_writes_total",
			Help: "Play history writes, by result",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Subsequent calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			CommandsTotal,
			BackendEventsTotal,
			BackendFailuresTotal,
			DroppedEventsTotal,
			CoalescedSnapshotsTotal,
			UnexpectedTransitionsTotal,
			ActiveSessions,
			AudioChunksDroppedTotal,
			HistoryWritesTotal,
		)
	})
}
