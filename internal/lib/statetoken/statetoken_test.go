package statetoken

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_TrialStart(t *testing.T) {
	raw := EncodeTrialStart("dev-1")

	intent, err := Decode(raw)
	require.NoError(t, err)

	start, ok := intent.(TrialStart)
	require.True(t, ok)
	assert.Equal(t, "dev-1", start.DeviceID)
}

func TestDecode_TrialExtend(t *testing.T) {
	raw := EncodeTrialExtend("3f1c6a52-0000-4000-8000-000000000001")

	intent, err := Decode(raw)
	require.NoError(t, err)

	extend, ok := intent.(TrialExtend)
	require.True(t, ok)
	assert.Equal(t, "3f1c6a52-0000-4000-8000-000000000001", extend.TrialID)
}

func TestDecode_LegacyBareID(t *testing.T) {
	// Старый клиент кодирует голый идентификатор без JSON-конверта.
	raw := base64.RawURLEncoding.EncodeToString([]byte("trial-legacy-77"))

	intent, err := Decode(raw)
	require.NoError(t, err)

	legacy, ok := intent.(LegacyExtend)
	require.True(t, ok)
	assert.Equal(t, "trial-legacy-77", legacy.TrialID)
}

func TestDecode_LegacyRawID(t *testing.T) {
	// Совсем старый клиент передает идентификатор без base64;
	// строка с недопустимыми для base64url символами трактуется как id.
	intent, err := Decode("trial~legacy~77")
	require.NoError(t, err)

	legacy, ok := intent.(LegacyExtend)
	require.True(t, ok)
	assert.Equal(t, "trial~legacy~77", legacy.TrialID)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"пустой токен", ""},
		{"неизвестный тип", encode(envelope{Type: "trial_pause", TrialID: "x"})},
		{"trial_start без device_id", encode(envelope{Type: "trial_start"})},
		{"trial_extend без trial_id", encode(envelope{Type: "trial_extend"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	intent, err := Decode(EncodeTrialExtend("abc"))
	require.NoError(t, err)
	assert.Equal(t, TrialExtend{TrialID: "abc"}, intent)
}
