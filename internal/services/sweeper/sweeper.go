// Package sweeper периодически сверяет записанную стадию с источником истины:
// записи anonymous/extended с прошедшим expiresAt получают стадию expired.
// Доступ и так считается по expiresAt, поэтому sweeper только материализует
// уже действующее состояние и публикует события истечения.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// Repository методы хранилища для сверки истечения.
type Repository interface {
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*models.TrialRecord, error)
	UpdateTrialGuarded(ctx context.Context, rec models.TrialRecord, expect models.Stage) (*models.TrialRecord, bool, error)
}

// EventPublisher публикует события жизненного цикла.
type EventPublisher interface {
	Publish(routingKey string, message any) error
}

// Service реализует фоновую сверку истекших триалов.
type Service struct {
	repo      Repository
	events    EventPublisher
	log       *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// New создает новый экземпляр Service.
func New(repo Repository, events EventPublisher, log *slog.Logger, interval time.Duration, batchSize int) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Service{
		repo:      repo,
		events:    events,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает периодическую сверку до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход сверки.
func (s *Service) Sweep(ctx context.Context) {
	s.log.Info("starting expiry sweep")
	now := s.now()

	candidates, err := s.repo.ListExpiryCandidates(ctx, now, s.batchSize)
	if err != nil {
		s.log.Error("failed to list expiry candidates", sl.Err(err))
		return
	}
	if len(candidates) == 0 {
		s.log.Info("no overdue trials found")
		return
	}
	s.log.Info("found overdue trials", "count", len(candidates))

	swept := 0
	for _, rec := range candidates {
		next := *rec
		next.Stage = models.StageExpired

		updated, ok, err := s.repo.UpdateTrialGuarded(ctx, next, rec.Stage)
		if err != nil {
			s.log.Error("failed to expire trial", slog.String("trial_id", rec.ID), sl.Err(err))
			continue
		}
		if !ok {
			// Конкурирующий переход успел первым, запись больше не кандидат.
			s.log.Info("skipped trial after concurrent transition",
				slog.String("trial_id", rec.ID),
				slog.String("stage", string(updated.Stage)))
			continue
		}

		swept++
		event := models.TrialEvent{
			Type:       models.EventTrialExpired,
			TrialID:    updated.ID,
			Stage:      updated.Stage,
			Email:      updated.Email,
			ExpiresAt:  updated.ExpiresAt,
			OccurredAt: now,
		}
		if err := s.events.Publish(models.EventTrialExpired, event); err != nil {
			s.log.Error("failed to publish expiry event",
				slog.String("trial_id", updated.ID), sl.Err(err))
		}
	}
	s.log.Info("expiry sweep finished", "swept", swept)
}
