package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestTrialRecord_EffectiveStage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		stage     Stage
		expiresAt time.Time
		want      Stage
	}{
		{
			name:      "активный anonymous остается anonymous",
			stage:     StageAnonymous,
			expiresAt: now.Add(24 * time.Hour),
			want:      StageAnonymous,
		},
		{
			name:      "anonymous с прошедшим сроком считается expired",
			stage:     StageAnonymous,
			expiresAt: now.Add(-time.Hour),
			want:      StageExpired,
		},
		{
			name:      "extended с прошедшим сроком считается expired",
			stage:     StageExtended,
			expiresAt: now.Add(-time.Minute),
			want:      StageExpired,
		},
		{
			name:      "converted не зависит от expires_at",
			stage:     StageConverted,
			expiresAt: now.Add(-240 * time.Hour),
			want:      StageConverted,
		},
		{
			name:      "записанный expired остается expired",
			stage:     StageExpired,
			expiresAt: now.Add(time.Hour),
			want:      StageExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &TrialRecord{Stage: tt.stage, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, rec.EffectiveStage(now))
		})
	}
}

func TestTrialRecord_DaysRemaining(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		stage     Stage
		expiresAt time.Time
		want      int
	}{
		{"ровно семь дней", StageAnonymous, now.AddDate(0, 0, 7), 7},
		{"неполный день округляется вверх", StageAnonymous, now.Add(25 * time.Hour), 2},
		{"истекший срок дает ноль, не отрицательное", StageAnonymous, now.Add(-1000 * time.Hour), 0},
		{"converted всегда ноль", StageConverted, now.AddDate(0, 0, 3), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &TrialRecord{Stage: tt.stage, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, rec.DaysRemaining(now))
		})
	}
}

func TestTrialRecord_DaysSinceExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := &TrialRecord{Stage: StageExpired, ExpiresAt: now.AddDate(0, 0, -29)}
	assert.Equal(t, 29, rec.DaysSinceExpiry(now))

	rec.ExpiresAt = now.AddDate(0, 0, -30)
	assert.Equal(t, 30, rec.DaysSinceExpiry(now))

	rec.ExpiresAt = now.Add(time.Hour)
	assert.Equal(t, 0, rec.DaysSinceExpiry(now))
}

func TestTrialRecord_Status(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("свежий анонимный триал может быть продлен", func(t *testing.T) {
		rec := &TrialRecord{Stage: StageAnonymous, ExpiresAt: now.AddDate(0, 0, 7)}
		st := rec.Status(now)
		assert.Equal(t, StageAnonymous, st.Stage)
		assert.Equal(t, 7, st.DaysRemaining)
		assert.False(t, st.IsExpired)
		assert.True(t, st.CanExtend)
	})

	t.Run("связанный анонимный триал продлевать нельзя", func(t *testing.T) {
		rec := &TrialRecord{
			Stage:      StageAnonymous,
			ExternalID: strPtr("gh-42"),
			ExpiresAt:  now.AddDate(0, 0, 7),
		}
		assert.False(t, rec.Status(now).CanExtend)
	})

	t.Run("логически истекший триал закрыт для продления", func(t *testing.T) {
		rec := &TrialRecord{Stage: StageAnonymous, ExpiresAt: now.Add(-time.Second)}
		st := rec.Status(now)
		assert.Equal(t, StageExpired, st.Stage)
		assert.True(t, st.IsExpired)
		assert.False(t, st.CanExtend)
		assert.Equal(t, 0, st.DaysRemaining)
	})
}
