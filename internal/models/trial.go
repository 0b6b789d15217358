// Package models содержит доменные структуры триала,
// а также вспомогательные типы для фильтрации, статистики и событий.
package models

import (
	"fmt"
	"math"
	"time"
)

// Stage описывает стадию жизненного цикла триала.
type Stage string

const (
	// StageAnonymous — триал известен только по отпечатку устройства.
	StageAnonymous Stage = "anonymous"
	// StageExtended — триал продлен через внешнюю идентичность.
	StageExtended Stage = "extended"
	// StageExpired — срок триала истек.
	StageExpired Stage = "expired"
	// StageConverted — триал конвертирован в платное право, терминальная стадия.
	StageConverted Stage = "converted"
)

// Terminal сообщает, является ли стадия терминальной.
func (s Stage) Terminal() bool {
	return s == StageConverted
}

// ParseStage разбирает строковое представление стадии.
func ParseStage(raw string) (Stage, error) {
	switch Stage(raw) {
	case StageAnonymous, StageExtended, StageExpired, StageConverted:
		return Stage(raw), nil
	default:
		return "", fmt.Errorf("unknown trial stage: %q", raw)
	}
}

// TrialRecord представляет собой одну запись триала — одну логическую идентичность.
// Поля DeviceID и ExternalID опциональны и уникальны, когда заполнены.
// ExpiresAt — единственный источник истины для истечения по времени:
// записанная стадия является кешем и пересчитывается через EffectiveStage.
type TrialRecord struct {
	ID                     string     `json:"id"`
	DeviceID               *string    `json:"device_id,omitempty"`
	ExternalID             *string    `json:"external_id,omitempty"`
	ExternalUsername       string     `json:"external_username,omitempty"`
	Email                  string     `json:"email,omitempty"`
	Stage                  Stage      `json:"stage"`
	StartedAt              time.Time  `json:"started_at"`
	ExpiresAt              time.Time  `json:"expires_at"`
	ExtendedAt             *time.Time `json:"extended_at,omitempty"`
	ConvertedEntitlementID string     `json:"converted_entitlement_id,omitempty"`
	ConvertedAt            *time.Time `json:"converted_at,omitempty"`
	Flagged                bool       `json:"flagged"`
	FlagReason             string     `json:"flag_reason,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// TrialStatus производное состояние триала на момент чтения.
type TrialStatus struct {
	Stage         Stage `json:"stage"`
	DaysRemaining int   `json:"days_remaining"`
	IsExpired     bool  `json:"is_expired"`
	CanExtend     bool  `json:"can_extend"`
}

// EffectiveStage возвращает действующую стадию с учетом времени:
// записанная стадия anonymous/extended считается expired,
// как только now превысил ExpiresAt.
func (r *TrialRecord) EffectiveStage(now time.Time) Stage {
	switch r.Stage {
	case StageConverted, StageExpired:
		return r.Stage
	default:
		if now.After(r.ExpiresAt) {
			return StageExpired
		}
		return r.Stage
	}
}

// DaysRemaining возвращает количество оставшихся дней триала,
// округленное вверх и никогда не отрицательное.
func (r *TrialRecord) DaysRemaining(now time.Time) int {
	if r.Stage == StageConverted {
		return 0
	}
	remaining := r.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// DaysSinceExpiry возвращает количество полных дней, прошедших с момента
// истечения. Для неистекшей записи возвращает 0.
func (r *TrialRecord) DaysSinceExpiry(now time.Time) int {
	elapsed := now.Sub(r.ExpiresAt)
	if elapsed <= 0 {
		return 0
	}
	return int(math.Floor(elapsed.Hours() / 24))
}

// Status вычисляет производный статус записи.
// Решения о доступе принимаются по действующей стадии, а не по записанной.
func (r *TrialRecord) Status(now time.Time) TrialStatus {
	stage := r.EffectiveStage(now)
	return TrialStatus{
		Stage:         stage,
		DaysRemaining: r.DaysRemaining(now),
		IsExpired:     stage == StageExpired,
		CanExtend:     stage == StageAnonymous && r.ExternalID == nil,
	}
}
