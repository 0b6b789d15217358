package admin

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
	"github.com/magabrotheeeer/trial-gatekeeper/internal/services/trial"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) ListTrials(ctx context.Context, filter models.TrialFilter, limit, offset int) ([]*models.TrialRecord, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TrialRecord), args.Error(1)
}
func (m *RepoMock) CountTrialStats(ctx context.Context, now time.Time) (*models.TrialStats, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialStats), args.Error(1)
}

type TrialServiceMock struct{ mock.Mock }

func (m *TrialServiceMock) ForceExpire(ctx context.Context, trialID string) (*models.TrialRecord, error) {
	args := m.Called(ctx, trialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}
func (m *TrialServiceMock) Flag(ctx context.Context, trialID, reason string) (*models.TrialRecord, error) {
	args := m.Called(ctx, trialID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}
func (m *TrialServiceMock) Unflag(ctx context.Context, trialID string) (*models.TrialRecord, error) {
	args := m.Called(ctx, trialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrialRecord), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestService_Stats(t *testing.T) {
	tests := []struct {
		name               string
		stats              *models.TrialStats
		wantConversionRate float64
		wantExtensionRate  float64
	}{
		{
			name: "rates are computed from totals",
			stats: &models.TrialStats{
				Total:        7,
				Converted:    2,
				EverExtended: 3,
			},
			wantConversionRate: 28.6,
			wantExtensionRate:  42.9,
		},
		{
			name:               "empty store yields zero rates",
			stats:              &models.TrialStats{},
			wantConversionRate: 0,
			wantExtensionRate:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			repo.On("CountTrialStats", mock.Anything, mock.Anything).Return(tt.stats, nil).Once()

			svc := New(repo, new(TrialServiceMock), newNoopLogger())
			got, err := svc.Stats(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.wantConversionRate, got.ConversionRate)
			assert.Equal(t, tt.wantExtensionRate, got.ExtensionRate)
		})
	}
}

func TestService_List(t *testing.T) {
	repo := new(RepoMock)
	flagged := true
	filter := models.TrialFilter{Flagged: &flagged}
	repo.On("ListTrials", mock.Anything, filter, 20, 0).
		Return([]*models.TrialRecord{{ID: "t-1"}, {ID: "t-2"}}, nil).Once()

	svc := New(repo, new(TrialServiceMock), newNoopLogger())
	got, err := svc.List(context.Background(), filter, 20, 0)

	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestService_ForceExpire(t *testing.T) {
	trials := new(TrialServiceMock)
	trials.On("ForceExpire", mock.Anything, "t-1").
		Return(nil, trial.ErrAlreadyConverted).Once()

	svc := New(new(RepoMock), trials, newNoopLogger())
	_, err := svc.ForceExpire(context.Background(), "t-1")
	assert.ErrorIs(t, err, trial.ErrAlreadyConverted)
}
