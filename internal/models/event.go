package models

import "time"

// Типы событий жизненного цикла, публикуемых в очередь уведомлений.
const (
	EventTrialCreated     = "trial.created"
	EventTrialExtended    = "trial.extended"
	EventTrialReactivated = "trial.reactivated"
	EventTrialExpired     = "trial.expired"
	EventTrialConverted   = "trial.converted"
)

// TrialEvent сообщение о переходе триала, уходящее внешнему отправителю уведомлений.
type TrialEvent struct {
	Type       string    `json:"type"`
	TrialID    string    `json:"trial_id"`
	Stage      Stage     `json:"stage"`
	Email      string    `json:"email,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}
