// Package conversion сверяет вебхуки биллинга с записями триала.
// Конверсия — терминальный переход: совпавшая запись получает
// идентификатор права и навсегда покидает воронку триала.
package conversion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/storage/repository"
)

// Repository методы хранилища, нужные для сверки конверсии.
type Repository interface {
	FindTrialByDeviceID(ctx context.Context, deviceID string) (*models.TrialRecord, error)
	FindTrialByExternalID(ctx context.Context, externalID string) (*models.TrialRecord, error)
	FindTrialByEmail(ctx context.Context, email string) (*models.TrialRecord, error)
	UpdateTrialGuarded(ctx context.Context, rec models.TrialRecord, expect models.Stage) (*models.TrialRecord, bool, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Set(key string, value any, expiration time.Duration) error
}

// EventPublisher публикует события жизненного цикла.
type EventPublisher interface {
	Publish(routingKey string, message any) error
}

// Service реализует сверку конверсии.
type Service struct {
	repo   Repository
	cache  Cache
	events EventPublisher
	log    *slog.Logger
	now    func() time.Time
}

// New создает новый экземпляр Service.
func New(repo Repository, cache Cache, events EventPublisher, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		events: events,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Convert ищет запись триала по кандидатам вебхука и переводит её
// в терминальную стадию converted. Кандидаты проверяются в строгом
// порядке: отпечаток устройства, внешняя идентичность, email —
// email последний, потому что его уникальность не гарантируется.
// Отсутствие совпадения не является ошибкой: пользователь мог
// купить подписку, никогда не беря триал.
func (s *Service) Convert(ctx context.Context, entitlementID string, candidates models.ConversionCandidates) (*models.TrialRecord, error) {
	rec, err := s.match(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		s.log.Info("conversion webhook matched no trial",
			slog.String("entitlement_id", entitlementID))
		return nil, nil
	}

	if rec.Stage.Terminal() {
		// Повторная доставка вебхука: запись возвращается без изменений.
		if rec.ConvertedEntitlementID != entitlementID {
			s.log.Warn("converted trial matched with different entitlement",
				slog.String("trial_id", rec.ID),
				slog.String("stored_entitlement_id", rec.ConvertedEntitlementID),
				slog.String("entitlement_id", entitlementID))
		}
		return rec, nil
	}

	updated, performed, err := s.convertGuarded(ctx, rec, entitlementID)
	if err != nil {
		return nil, err
	}
	if !performed {
		// Конкурирующий вебхук конвертировал первым.
		return updated, nil
	}

	s.log.Info("converted trial",
		slog.String("trial_id", updated.ID),
		slog.String("entitlement_id", entitlementID))
	s.cacheSet(updated)
	s.publish(updated)
	return updated, nil
}

// convertGuarded применяет терминальный переход с одной повторной попыткой:
// проигранная гонка со sweeper-ом меняет только ожидаемую стадию,
// конверсия всё равно обязана завершиться.
func (s *Service) convertGuarded(ctx context.Context, rec *models.TrialRecord, entitlementID string) (*models.TrialRecord, bool, error) {
	for range 2 {
		now := s.now()
		next := *rec
		next.Stage = models.StageConverted
		next.ConvertedEntitlementID = entitlementID
		next.ConvertedAt = &now

		updated, ok, err := s.repo.UpdateTrialGuarded(ctx, next, rec.Stage)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return updated, true, nil
		}
		if updated.Stage.Terminal() {
			return updated, false, nil
		}
		rec = updated
	}
	return nil, false, errors.New("conversion lost guarded update race twice")
}

func (s *Service) match(ctx context.Context, candidates models.ConversionCandidates) (*models.TrialRecord, error) {
	type lookup struct {
		key  string
		find func(context.Context, string) (*models.TrialRecord, error)
	}
	lookups := []lookup{
		{candidates.DeviceID, s.repo.FindTrialByDeviceID},
		{candidates.ExternalID, s.repo.FindTrialByExternalID},
		{candidates.Email, s.repo.FindTrialByEmail},
	}

	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		rec, err := l.find(ctx, l.key)
		if errors.Is(err, repository.ErrTrialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, nil
}

func (s *Service) cacheSet(rec *models.TrialRecord) {
	key := "trial:" + rec.ID
	if err := s.cache.Set(key, rec, time.Hour); err != nil {
		s.log.Warn("failed to cache trial", slog.String("key", key), sl.Err(err))
	}
}

func (s *Service) publish(rec *models.TrialRecord) {
	event := models.TrialEvent{
		Type:       models.EventTrialConverted,
		TrialID:    rec.ID,
		Stage:      rec.Stage,
		Email:      rec.Email,
		ExpiresAt:  rec.ExpiresAt,
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(models.EventTrialConverted, event); err != nil {
		s.log.Warn("failed to publish trial event",
			slog.String("event", models.EventTrialConverted),
			slog.String("trial_id", rec.ID),
			sl.Err(err))
	}
}
