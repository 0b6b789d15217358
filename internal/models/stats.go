package models

// TrialStats агрегированная статистика по триалам.
// Активные счетчики учитывают действующую стадию: запись со стадией
// anonymous/extended и прошедшим expires_at считается истекшей.
type TrialStats struct {
	Total            int `json:"total"`
	ActiveAnonymous  int `json:"active_anonymous"`
	ActiveExtended   int `json:"active_extended"`
	Expired          int `json:"expired"`
	Converted        int `json:"converted"`
	Flagged          int `json:"flagged"`
	ExpiringToday    int `json:"expiring_today"`
	ExpiringThisWeek int `json:"expiring_this_week"`
	EverExtended     int `json:"ever_extended"`

	// Производные проценты, округленные до одного знака.
	ConversionRate float64 `json:"conversion_rate"`
	ExtensionRate  float64 `json:"extension_rate"`
}
