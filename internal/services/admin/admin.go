// Package admin содержит операции панели модерации:
// просмотр записей триала с фильтрами, агрегированную статистику
// и ручные переходы жизненного цикла.
package admin

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

// Repository методы хранилища для чтения записей и статистики.
type Repository interface {
	ListTrials(ctx context.Context, filter models.TrialFilter, limit, offset int) ([]*models.TrialRecord, error)
	CountTrialStats(ctx context.Context, now time.Time) (*models.TrialStats, error)
}

// TrialService административные переходы жизненного цикла.
type TrialService interface {
	ForceExpire(ctx context.Context, trialID string) (*models.TrialRecord, error)
	Flag(ctx context.Context, trialID, reason string) (*models.TrialRecord, error)
	Unflag(ctx context.Context, trialID string) (*models.TrialRecord, error)
}

// Service реализует операции административной панели.
type Service struct {
	repo   Repository
	trials TrialService
	log    *slog.Logger
	now    func() time.Time
}

// New создает новый экземпляр Service.
func New(repo Repository, trials TrialService, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		trials: trials,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List возвращает записи триала с фильтрами и пагинацией.
func (s *Service) List(ctx context.Context, filter models.TrialFilter, limit, offset int) ([]*models.TrialRecord, error) {
	return s.repo.ListTrials(ctx, filter, limit, offset)
}

// Stats возвращает агрегированную статистику воронки триала.
// Доли считаются от общего числа записей и округляются до десятых процента.
func (s *Service) Stats(ctx context.Context) (*models.TrialStats, error) {
	stats, err := s.repo.CountTrialStats(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.ConversionRate = round1(float64(stats.Converted) / float64(stats.Total) * 100)
		stats.ExtensionRate = round1(float64(stats.EverExtended) / float64(stats.Total) * 100)
	}
	return stats, nil
}

// ForceExpire безусловно завершает триал.
func (s *Service) ForceExpire(ctx context.Context, trialID string) (*models.TrialRecord, error) {
	s.log.Info("admin force expire", slog.String("trial_id", trialID))
	return s.trials.ForceExpire(ctx, trialID)
}

// Flag помечает запись для модерации.
func (s *Service) Flag(ctx context.Context, trialID, reason string) (*models.TrialRecord, error) {
	s.log.Info("admin flag", slog.String("trial_id", trialID), slog.String("reason", reason))
	return s.trials.Flag(ctx, trialID, reason)
}

// Unflag снимает пометку модерации.
func (s *Service) Unflag(ctx context.Context, trialID string) (*models.TrialRecord, error) {
	s.log.Info("admin unflag", slog.String("trial_id", trialID))
	return s.trials.Unflag(ctx, trialID)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
