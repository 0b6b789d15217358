// Package statetoken разбирает state-токен OAuth-колбэка в типизированное намерение.
//
// Токен — это base64url-пейлоад одного из трех видов:
// тегированный JSON {"type":"trial_start","device_id":...},
// тегированный JSON {"type":"trial_extend","trial_id":...},
// либо устаревший «голый» идентификатор триала без конверта.
// Остальная часть системы никогда не видит сырые строки.
package statetoken

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	typeTrialStart  = "trial_start"
	typeTrialExtend = "trial_extend"
)

// Intent типизированное намерение, закодированное в state-токене.
type Intent interface {
	isIntent()
}

// TrialStart намерение начать триал для устройства.
type TrialStart struct {
	DeviceID string
}

// TrialExtend намерение продлить существующий триал.
type TrialExtend struct {
	TrialID string
}

// LegacyExtend намерение продлить триал, закодированное старым клиентом
// голым идентификатором без конверта. Обрабатывается как TrialExtend.
type LegacyExtend struct {
	TrialID string
}

func (TrialStart) isIntent()   {}
func (TrialExtend) isIntent()  {}
func (LegacyExtend) isIntent() {}

type envelope struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	TrialID  string `json:"trial_id,omitempty"`
}

// Decode разбирает state-токен в намерение, поддерживая все три формы.
func Decode(raw string) (Intent, error) {
	const op = "statetoken.Decode"
	if raw == "" {
		return nil, fmt.Errorf("%s: empty state token", op)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// Совсем старые клиенты передают идентификатор как есть, без base64.
		return LegacyExtend{TrialID: raw}, nil
	}

	var env envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		if isPrintable(decoded) {
			return LegacyExtend{TrialID: string(decoded)}, nil
		}
		// Идентификатор триала случайно оказался валидным base64:
		// декодированный мусор не является пейлоадом.
		return LegacyExtend{TrialID: raw}, nil
	}

	switch env.Type {
	case typeTrialStart:
		if env.DeviceID == "" {
			return nil, fmt.Errorf("%s: trial_start token without device_id", op)
		}
		return TrialStart{DeviceID: env.DeviceID}, nil
	case typeTrialExtend:
		if env.TrialID == "" {
			return nil, fmt.Errorf("%s: trial_extend token without trial_id", op)
		}
		return TrialExtend{TrialID: env.TrialID}, nil
	default:
		return nil, fmt.Errorf("%s: unknown token type %q", op, env.Type)
	}
}

// EncodeTrialStart собирает state-токен для старта триала с устройства.
func EncodeTrialStart(deviceID string) string {
	return encode(envelope{Type: typeTrialStart, DeviceID: deviceID})
}

// EncodeTrialExtend собирает state-токен для продления триала.
func EncodeTrialExtend(trialID string) string {
	return encode(envelope{Type: typeTrialExtend, TrialID: trialID})
}

func encode(env envelope) string {
	body, _ := json.Marshal(env)
	return base64.RawURLEncoding.EncodeToString(body)
}

func isPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
