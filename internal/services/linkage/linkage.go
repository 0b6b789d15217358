// Package linkage обрабатывает OAuth-колбэк внешней идентичности:
// разбирает state-токен в намерение, обменивает код авторизации
// на идентичность и направляет запрос в нужную операцию жизненного цикла.
package linkage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/identityprovider"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/statetoken"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

// Ошибки привязки внешней идентичности.
var (
	// ErrInvalidState state-токен колбэка не разобрался в намерение.
	ErrInvalidState = errors.New("invalid state token")
	// ErrProviderUnavailable OAuth-провайдер недоступен, попытку можно повторить.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrAlreadyCustomer внешняя идентичность принадлежит конвертированной записи.
	ErrAlreadyCustomer = errors.New("already a paying customer")
)

// TrialService операции жизненного цикла, в которые направляется колбэк.
type TrialService interface {
	StartLinked(ctx context.Context, deviceID, externalID, username, email string) (*models.TrialRecord, error)
	Extend(ctx context.Context, trialID, externalID, username, email string) (*models.TrialRecord, error)
	Reactivate(ctx context.Context, deviceID, externalID, username, email string) (*models.TrialRecord, error)
	RebindDevice(ctx context.Context, trialID, deviceID string) (*models.TrialRecord, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.TrialRecord, error)
}

// IdentityExchanger обменивает код авторизации на внешнюю идентичность.
type IdentityExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*identityprovider.Identity, error)
}

// Service реализует обработку OAuth-колбэка.
type Service struct {
	trials   TrialService
	provider IdentityExchanger
	log      *slog.Logger
	now      func() time.Time
}

// New создает новый экземпляр Service.
func New(trials TrialService, provider IdentityExchanger, log *slog.Logger) *Service {
	return &Service{
		trials:   trials,
		provider: provider,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleCallback обрабатывает колбэк OAuth-провайдера.
// Возвращает запись триала, к которой привел колбэк, либо ошибку операции.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (*models.TrialRecord, error) {
	const op = "linkage.HandleCallback"

	intent, err := statetoken.Decode(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	identity, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		if errors.Is(err, identityprovider.ErrUpstream) {
			return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("exchanged authorization code",
		slog.String("external_id", identity.ID),
		slog.String("external_username", identity.Username))

	switch v := intent.(type) {
	case statetoken.TrialStart:
		return s.handleTrialStart(ctx, v.DeviceID, identity)
	case statetoken.TrialExtend:
		return s.trials.Extend(ctx, v.TrialID, identity.ID, identity.Username, identity.Email)
	case statetoken.LegacyExtend:
		return s.trials.Extend(ctx, v.TrialID, identity.ID, identity.Username, identity.Email)
	default:
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidState)
	}
}

// handleTrialStart направляет намерение trial_start по состоянию записи
// внешней идентичности: новая привязанная запись, перенос устройства
// на активную запись либо реактивация истекшей.
func (s *Service) handleTrialStart(ctx context.Context, deviceID string, identity *identityprovider.Identity) (*models.TrialRecord, error) {
	rec, err := s.trials.FindByExternalID(ctx, identity.ID)
	if errors.Is(err, trial.ErrNotFound) {
		// Идентичность ранее не встречалась: триал стартует сразу привязанным.
		return s.trials.StartLinked(ctx, deviceID, identity.ID, identity.Username, identity.Email)
	}
	if err != nil {
		return nil, err
	}

	if rec.Stage.Terminal() {
		return nil, ErrAlreadyCustomer
	}
	if rec.EffectiveStage(s.now()) == models.StageExpired {
		return s.trials.Reactivate(ctx, deviceID, identity.ID, identity.Username, identity.Email)
	}

	// Активная запись: поддерживаем продолжение с нового устройства,
	// без повторного продления.
	return s.trials.RebindDevice(ctx, rec.ID, deviceID)
}
