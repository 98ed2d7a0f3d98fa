package model

import "fujudge/internal/judge/sandbox/result"

// StatusEventType labels a published run status event.
type StatusEventType string

const (
	StatusEventFinal StatusEventType = "final"
)

// StatusEvent is published when a run reaches a terminal state.
type StatusEvent struct {
	Type      StatusEventType `json:"type"`
	Status    result.Summary  `json:"status"`
	CreatedAt int64           `json:"createdAt"`
}
