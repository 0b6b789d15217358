package models

// TrialFilter описывает фильтры списка триалов для административной выборки.
// Нулевые указатели означают отсутствие фильтра.
type TrialFilter struct {
	Stage              *Stage
	Flagged            *bool
	ExpiringWithinDays *int
}

// ConversionCandidates набор идентификаторов, по которым сверка конверсии
// ищет запись триала. Порядок поиска фиксирован: deviceID, externalID, email.
type ConversionCandidates struct {
	DeviceID   string `json:"device_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
}
