// Package trial содержит бизнес-логику жизненного цикла триала:
// создание по отпечатку устройства, продление через внешнюю идентичность,
// реактивацию после периода охлаждения и административные переходы.
// Все переходы выражены через условное обновление хранилища,
// поэтому инварианты стадий проверяются в одном месте.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/sl"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/storage/repository"
)

// Окна жизненного цикла триала в днях.
const (
	// AnonymousWindowDays длительность анонимного триала.
	AnonymousWindowDays = 7
	// ExtensionWindowDays длительность окна после продления, отсчитывается от момента продления.
	ExtensionWindowDays = 7
	// ReactivationCooldownDays минимальное число полных дней после истечения до реактивации.
	ReactivationCooldownDays = 30
)

const cacheTTL = time.Hour

// Repository определяет методы хранилища записей триала.
type Repository interface {
	// CreateTrial вставляет новую запись и возвращает сохраненную строку.
	CreateTrial(ctx context.Context, rec models.TrialRecord) (*models.TrialRecord, error)
	// GetTrial возвращает запись по ID.
	GetTrial(ctx context.Context, id string) (*models.TrialRecord, error)
	// FindTrialByDeviceID возвращает запись, которой принадлежит отпечаток устройства.
	FindTrialByDeviceID(ctx context.Context, deviceID string) (*models.TrialRecord, error)
	// FindTrialByExternalID возвращает запись, к которой привязана внешняя идентичность.
	FindTrialByExternalID(ctx context.Context, externalID string) (*models.TrialRecord, error)
	// UpdateTrialGuarded применяет условное обновление с проверкой текущей стадии.
	UpdateTrialGuarded(ctx context.Context, rec models.TrialRecord, expect models.Stage) (*models.TrialRecord, bool, error)
	// UpdateTrialGuardedReleasingDevice применяет условное обновление и
	// освобождение отпечатка устройства в одной транзакции.
	UpdateTrialGuardedReleasingDevice(ctx context.Context, rec models.TrialRecord, expect models.Stage, deviceID string) (*models.TrialRecord, bool, error)
	// UpdateModeration выставляет флаг модерации, не затрагивая стадию.
	UpdateModeration(ctx context.Context, id string, flagged bool, reason string) (*models.TrialRecord, error)
	// RebindDevice атомарно переносит отпечаток устройства на указанную запись.
	RebindDevice(ctx context.Context, id, deviceID string) (*models.TrialRecord, error)
	// ReleaseDevice освобождает отпечаток устройства у всех записей, кроме keepID.
	ReleaseDevice(ctx context.Context, deviceID, keepID string) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(key string) error
}

// EventPublisher публикует события жизненного цикла для внешних потребителей.
type EventPublisher interface {
	Publish(routingKey string, message any) error
}

// Service реализует операции жизненного цикла триала.
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

// Create начинает анонимный триал для отпечатка устройства.
// Операция идемпотентна: если устройство уже владеет записью,
// она возвращается без изменений независимо от стадии —
// повторное создание не дает нового окна в обход охлаждения.
func (s *Service) Create(ctx context.Context, deviceID string) (*models.TrialRecord, error) {
	existing, err := s.repo.FindTrialByDeviceID(ctx, deviceID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrTrialNotFound) {
		return nil, err
	}

	now := s.now()
	rec := models.TrialRecord{
		ID:        uuid.New().String(),
		DeviceID:  &deviceID,
		Stage:     models.StageAnonymous,
		StartedAt: now,
		ExpiresAt: now.AddDate(0, 0, AnonymousWindowDays),
	}

	created, err := s.repo.CreateTrial(ctx, rec)
	if errors.Is(err, repository.ErrDeviceIDTaken) {
		// Конкурирующее создание выиграло гонку, возвращаем его результат.
		return s.repo.FindTrialByDeviceID(ctx, deviceID)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("created anonymous trial",
		slog.String("trial_id", created.ID),
		slog.Time("expires_at", created.ExpiresAt))
	s.cacheSet(created)
	s.publish(models.EventTrialCreated, created)
	return created, nil
}

// StartLinked начинает анонимный триал, сразу привязанный к внешней идентичности.
// Используется, когда триал стартует через OAuth и отдельной анонимной фазы нет.
func (s *Service) StartLinked(ctx context.Context, deviceID, externalID, username, email string) (*models.TrialRecord, error) {
	now := s.now()
	rec := models.TrialRecord{
		ID:               uuid.New().String(),
		DeviceID:         &deviceID,
		ExternalID:       &externalID,
		ExternalUsername: username,
		Email:            email,
		Stage:            models.StageAnonymous,
		StartedAt:        now,
		ExpiresAt:        now.AddDate(0, 0, AnonymousWindowDays),
	}

	created, err := s.repo.CreateTrial(ctx, rec)
	if errors.Is(err, repository.ErrExternalIDTaken) {
		// Конкурирующая привязка той же идентичности выиграла гонку.
		return s.repo.FindTrialByExternalID(ctx, externalID)
	}
	if errors.Is(err, repository.ErrDeviceIDTaken) {
		return s.startLinkedOnTakenDevice(ctx, rec, deviceID, externalID, username, email)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("created linked anonymous trial",
		slog.String("trial_id", created.ID),
		slog.String("external_username", username))
	s.cacheSet(created)
	s.publish(models.EventTrialCreated, created)
	return created, nil
}

// startLinkedOnTakenDevice разрешает конфликт отпечатка устройства при StartLinked.
// Непривязанная анонимная запись устройства получает идентичность на месте;
// в остальных случаях устройство освобождается и вставка повторяется.
func (s *Service) startLinkedOnTakenDevice(ctx context.Context, rec models.TrialRecord,
	deviceID, externalID, username, email string) (*models.TrialRecord, error) {
	owner, err := s.repo.FindTrialByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if owner.ExternalID == nil && owner.EffectiveStage(s.now()) == models.StageAnonymous {
		next := *owner
		next.ExternalID = &externalID
		next.ExternalUsername = username
		next.Email = email
		updated, ok, err := s.repo.UpdateTrialGuarded(ctx, next, owner.Stage)
		if errors.Is(err, repository.ErrExternalIDTaken) {
			return nil, ErrExternalIdentityReused
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.conflictError(updated)
		}
		s.cacheSet(updated)
		return updated, nil
	}

	if err := s.repo.ReleaseDevice(ctx, deviceID, rec.ID); err != nil {
		return nil, err
	}
	// Запись прежнего владельца изменилась под кешем.
	s.cacheInvalidate(owner.ID)

	created, err := s.repo.CreateTrial(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.cacheSet(created)
	s.publish(models.EventTrialCreated, created)
	return created, nil
}

// Get возвращает запись триала по ID, используя кеш или репозиторий.
func (s *Service) Get(ctx context.Context, id string) (*models.TrialRecord, error) {
	var rec *models.TrialRecord
	key := cacheKey(id)
	found, err := s.cache.Get(key, &rec)
	if err != nil {
		s.log.Warn("failed to read trial from cache", slog.String("key", key), sl.Err(err))
	}
	if found {
		return rec, nil
	}

	rec, err = s.repo.GetTrial(ctx, id)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cacheSet(rec)
	return rec, nil
}

// FindByExternalID возвращает запись, привязанную к внешней идентичности.
func (s *Service) FindByExternalID(ctx context.Context, externalID string) (*models.TrialRecord, error) {
	rec, err := s.repo.FindTrialByExternalID(ctx, externalID)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Extend однократно продлевает анонимный триал через внешнюю идентичность.
// Окно сбрасывается и отсчитывается от момента продления. Продление
// истекшего триала запрещено: вместо него требуется реактивация.
func (s *Service) Extend(ctx context.Context, trialID, externalID, username, email string) (*models.TrialRecord, error) {
	rec, err := s.repo.GetTrial(ctx, trialID)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch rec.EffectiveStage(now) {
	case models.StageConverted:
		return nil, ErrAlreadyConverted
	case models.StageExpired:
		return nil, ErrReactivationRequired
	case models.StageExtended:
		return nil, ErrAlreadyExtended
	}
	if rec.ExternalID != nil {
		return nil, ErrAlreadyExtended
	}

	holder, err := s.repo.FindTrialByExternalID(ctx, externalID)
	if err != nil && !errors.Is(err, repository.ErrTrialNotFound) {
		return nil, err
	}
	if err == nil && holder.ID != rec.ID {
		return nil, ErrExternalIdentityReused
	}

	next := *rec
	next.Stage = models.StageExtended
	next.ExternalID = &externalID
	next.ExternalUsername = username
	next.Email = email
	next.ExtendedAt = &now
	next.ExpiresAt = now.AddDate(0, 0, ExtensionWindowDays)

	updated, ok, err := s.repo.UpdateTrialGuarded(ctx, next, models.StageAnonymous)
	if errors.Is(err, repository.ErrExternalIDTaken) {
		return nil, ErrExternalIdentityReused
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictError(updated)
	}

	s.log.Info("extended trial",
		slog.String("trial_id", updated.ID),
		slog.String("external_username", username),
		slog.Time("expires_at", updated.ExpiresAt))
	s.cacheSet(updated)
	s.publish(models.EventTrialExtended, updated)
	return updated, nil
}

// Reactivate сбрасывает истекшую запись внешней идентичности на новое
// анонимное окно после периода охлаждения. Запись переиспользуется на месте:
// история и флаг модерации сохраняются, отпечаток устройства обновляется.
func (s *Service) Reactivate(ctx context.Context, deviceID, externalID, username, email string) (*models.TrialRecord, error) {
	rec, err := s.repo.FindTrialByExternalID(ctx, externalID)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if rec.Stage.Terminal() {
		return nil, ErrAlreadyConverted
	}
	if rec.EffectiveStage(now) != models.StageExpired {
		return nil, ErrNotExpired
	}
	if days := rec.DaysSinceExpiry(now); days < ReactivationCooldownDays {
		return nil, &CooldownError{DaysRemaining: ReactivationCooldownDays - days}
	}

	next := *rec
	next.DeviceID = &deviceID
	next.ExternalUsername = username
	next.Email = email
	next.Stage = models.StageAnonymous
	next.StartedAt = now
	next.ExpiresAt = now.AddDate(0, 0, AnonymousWindowDays)
	next.ExtendedAt = nil

	// Новое устройство могло владеть собственной анонимной записью:
	// освобождение и переход выполняются одной транзакцией, чтобы
	// несработавшее условие не оставляло частичного эффекта.
	updated, ok, err := s.repo.UpdateTrialGuardedReleasingDevice(ctx, next, rec.Stage, deviceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflictError(updated)
	}

	s.log.Info("reactivated trial",
		slog.String("trial_id", updated.ID),
		slog.Time("expires_at", updated.ExpiresAt))
	s.cacheSet(updated)
	s.publish(models.EventTrialReactivated, updated)
	return updated, nil
}

// ForceExpire безусловно завершает триал. Повторное применение к уже
// истекшей записи идемпотентно; конвертированная запись не затрагивается.
func (s *Service) ForceExpire(ctx context.Context, trialID string) (*models.TrialRecord, error) {
	rec, err := s.repo.GetTrial(ctx, trialID)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rec.Stage.Terminal() {
		return nil, ErrAlreadyConverted
	}
	if rec.Stage == models.StageExpired {
		return rec, nil
	}

	next := *rec
	next.Stage = models.StageExpired
	next.ExpiresAt = s.now()

	updated, ok, err := s.repo.UpdateTrialGuarded(ctx, next, rec.Stage)
	if err != nil {
		return nil, err
	}
	if !ok {
		if updated.Stage == models.StageExpired {
			return updated, nil
		}
		return nil, s.conflictError(updated)
	}

	s.log.Info("force expired trial", slog.String("trial_id", updated.ID))
	s.cacheSet(updated)
	s.publish(models.EventTrialExpired, updated)
	return updated, nil
}

// Flag помечает запись для модерации, стадия не меняется.
func (s *Service) Flag(ctx context.Context, trialID, reason string) (*models.TrialRecord, error) {
	return s.moderate(ctx, trialID, true, reason)
}

// Unflag снимает пометку модерации.
func (s *Service) Unflag(ctx context.Context, trialID string) (*models.TrialRecord, error) {
	return s.moderate(ctx, trialID, false, "")
}

func (s *Service) moderate(ctx context.Context, trialID string, flagged bool, reason string) (*models.TrialRecord, error) {
	updated, err := s.repo.UpdateModeration(ctx, trialID, flagged, reason)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cacheSet(updated)
	return updated, nil
}

// RebindDevice переносит отпечаток устройства на запись триала.
// Поддерживает продолжение активного триала с нового устройства.
func (s *Service) RebindDevice(ctx context.Context, trialID, deviceID string) (*models.TrialRecord, error) {
	updated, err := s.repo.RebindDevice(ctx, trialID, deviceID)
	if errors.Is(err, repository.ErrTrialNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cacheSet(updated)
	return updated, nil
}

// conflictError переводит несработавшее условное обновление в точную
// причину конфликта по действующей стадии актуальной записи.
func (s *Service) conflictError(current *models.TrialRecord) error {
	switch current.EffectiveStage(s.now()) {
	case models.StageConverted:
		return ErrAlreadyConverted
	case models.StageExtended:
		return ErrAlreadyExtended
	case models.StageExpired:
		return ErrReactivationRequired
	default:
		return ErrConflictingTransition
	}
}

func cacheKey(id string) string {
	return fmt.Sprintf("trial:%s", id)
}

func (s *Service) cacheSet(rec *models.TrialRecord) {
	key := cacheKey(rec.ID)
	if err := s.cache.Set(key, rec, cacheTTL); err != nil {
		s.log.Warn("failed to cache trial", slog.String("key", key), sl.Err(err))
	}
}

func (s *Service) cacheInvalidate(id string) {
	key := cacheKey(id)
	if err := s.cache.Invalidate(key); err != nil {
		s.log.Warn("failed to invalidate trial cache", slog.String("key", key), sl.Err(err))
	}
}

func (s *Service) publish(eventType string, rec *models.TrialRecord) {
	event := models.TrialEvent{
		Type:       eventType,
		TrialID:    rec.ID,
		Stage:      rec.Stage,
		Email:      rec.Email,
		ExpiresAt:  rec.ExpiresAt,
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(eventType, event); err != nil {
		s.log.Warn("failed to publish trial event",
			slog.String("event", eventType),
			slog.String("trial_id", rec.ID),
			sl.Err(err))
	}
}
