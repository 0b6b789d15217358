package linkage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/identityprovider"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/lib/statetoken"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

type TrialServiceMock struct{ mock.Mock }

func (m *TrialServiceMock) StartLinked(ctx context.Context, deviceID, externalID, username, email string) (*models.TrialRecord, error) {
	args := m.Called(ctx, deviceID, externalID, username, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}
func (m *TrialServiceMock) Extend(ctx context.Context, trialID, externalID, username, email string) (*models.TrialRecord, error) {
	args := m.Called(ctx, trialID, externalID, username, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}
func (m *TrialServiceMock) Reactivate(ctx context.Context, deviceID, externalID, username, email string) (*models.TrialRecord, error) {
	args := m.Called(ctx, deviceID, externalID, username, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}
func (m *TrialServiceMock) RebindDevice(ctx context.Context, trialID, deviceID string) (*models.TrialRecord, error) {
	args := m.Called(ctx, trialID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}
func (m *TrialServiceMock) FindByExternalID(ctx context.Context, externalID string) (*models.TrialRecord, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}

type ExchangerMock struct{ mock.Mock }

func (m *ExchangerMock) ExchangeCode(ctx context.Context, code string) (*identityprovider.Identity, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identityprovider.Identity), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(trials *TrialServiceMock, provider *ExchangerMock, now time.Time) *Service {
	svc := New(trials, provider, newNoopLogger())
	svc.now = func() time.Time { return now }
	return svc
}

var testIdentity = &identityprovider.Identity{ID: "42", Username: "alice", Email: "a@x.com"}

func TestService_HandleCallback_TrialStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	state := statetoken.EncodeTrialStart("dev-1")

	t.Run("unknown identity starts a linked trial", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("FindByExternalID", mock.Anything, "42").Return(nil, trial.ErrNotFound).Once()
		trials.On("StartLinked", mock.Anything, "dev-1", "42", "alice", "a@x.com").
			Return(&models.TrialRecord{ID: "t-1", Stage: models.StageAnonymous}, nil).Once()

		svc := newTestService(trials, provider, now)
		got, err := svc.HandleCallback(context.Background(), "code-1", state)

		require.NoError(t, err)
		assert.Equal(t, "t-1", got.ID)
		trials.AssertExpectations(t)
	})

	t.Run("converted identity reports already customer", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("FindByExternalID", mock.Anything, "42").
			Return(&models.TrialRecord{ID: "t-1", Stage: models.StageConverted}, nil).Once()

		svc := newTestService(trials, provider, now)
		_, err := svc.HandleCallback(context.Background(), "code-1", state)
		assert.ErrorIs(t, err, ErrAlreadyCustomer)
	})

	t.Run("expired identity is routed to reactivation", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("FindByExternalID", mock.Anything, "42").Return(&models.TrialRecord{
			ID:        "t-1",
			Stage:     models.StageExpired,
			ExpiresAt: now.AddDate(0, 0, -10),
		}, nil).Once()
		trials.On("Reactivate", mock.Anything, "dev-1", "42", "alice", "a@x.com").
			Return(nil, &trial.CooldownError{DaysRemaining: 20}).Once()

		svc := newTestService(trials, provider, now)
		_, err := svc.HandleCallback(context.Background(), "code-1", state)

		var cooldown *trial.CooldownError
		require.ErrorAs(t, err, &cooldown)
		assert.Equal(t, 20, cooldown.DaysRemaining)
	})

	t.Run("logically expired active record is also routed to reactivation", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("FindByExternalID", mock.Anything, "42").Return(&models.TrialRecord{
			ID:        "t-1",
			Stage:     models.StageExtended,
			ExpiresAt: now.AddDate(0, 0, -40),
		}, nil).Once()
		trials.On("Reactivate", mock.Anything, "dev-1", "42", "alice", "a@x.com").
			Return(&models.TrialRecord{ID: "t-1", Stage: models.StageAnonymous}, nil).Once()

		svc := newTestService(trials, provider, now)
		got, err := svc.HandleCallback(context.Background(), "code-1", state)

		require.NoError(t, err)
		assert.Equal(t, models.StageAnonymous, got.Stage)
	})

	t.Run("active identity rebinds device without re-extending", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("FindByExternalID", mock.Anything, "42").Return(&models.TrialRecord{
			ID:        "t-1",
			Stage:     models.StageExtended,
			ExpiresAt: now.AddDate(0, 0, 3),
		}, nil).Once()
		trials.On("RebindDevice", mock.Anything, "t-1", "dev-1").
			Return(&models.TrialRecord{ID: "t-1", Stage: models.StageExtended}, nil).Once()

		svc := newTestService(trials, provider, now)
		got, err := svc.HandleCallback(context.Background(), "code-1", state)

		require.NoError(t, err)
		assert.Equal(t, models.StageExtended, got.Stage)
		trials.AssertNotCalled(t, "Extend", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_HandleCallback_TrialExtend(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("tagged extend intent calls extend", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("Extend", mock.Anything, "t-1", "42", "alice", "a@x.com").
			Return(&models.TrialRecord{ID: "t-1", Stage: models.StageExtended}, nil).Once()

		svc := newTestService(trials, provider, now)
		got, err := svc.HandleCallback(context.Background(), "code-1", statetoken.EncodeTrialExtend("t-1"))

		require.NoError(t, err)
		assert.Equal(t, models.StageExtended, got.Stage)
	})

	t.Run("legacy bare trial id is treated as extend", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("Extend", mock.Anything, "legacy-trial-id", "42", "alice", "a@x.com").
			Return(&models.TrialRecord{ID: "legacy-trial-id", Stage: models.StageExtended}, nil).Once()

		svc := newTestService(trials, provider, now)
		got, err := svc.HandleCallback(context.Background(), "code-1", "legacy-trial-id")

		require.NoError(t, err)
		assert.Equal(t, "legacy-trial-id", got.ID)
	})

	t.Run("extend errors pass through unchanged", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").Return(testIdentity, nil).Once()
		trials.On("Extend", mock.Anything, "t-1", "42", "alice", "a@x.com").
			Return(nil, trial.ErrExternalIdentityReused).Once()

		svc := newTestService(trials, provider, now)
		_, err := svc.HandleCallback(context.Background(), "code-1", statetoken.EncodeTrialExtend("t-1"))
		assert.ErrorIs(t, err, trial.ErrExternalIdentityReused)
	})
}

func TestService_HandleCallback_Failures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty state token", func(t *testing.T) {
		svc := newTestService(new(TrialServiceMock), new(ExchangerMock), now)
		_, err := svc.HandleCallback(context.Background(), "code-1", "")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("provider outage surfaces as transient error", func(t *testing.T) {
		trials := new(TrialServiceMock)
		provider := new(ExchangerMock)

		provider.On("ExchangeCode", mock.Anything, "code-1").
			Return(nil, errors.Join(identityprovider.ErrUpstream, errors.New("502"))).Once()

		svc := newTestService(trials, provider, now)
		_, err := svc.HandleCallback(context.Background(), "code-1", statetoken.EncodeTrialStart("dev-1"))
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})
}
