package trial

import (
	"errors"
	"fmt"
)

// Ошибки жизненного цикла триала, различаемые обработчиками.
var (
	// ErrNotFound запись триала не найдена.
	ErrNotFound = errors.New("trial not found")
	// ErrAlreadyExtended триал уже был продлен, повторное продление запрещено.
	ErrAlreadyExtended = errors.New("trial already extended")
	// ErrAlreadyConverted триал конвертирован, стадия терминальна.
	ErrAlreadyConverted = errors.New("trial already converted")
	// ErrExternalIdentityReused внешняя идентичность уже привязана к другой записи.
	ErrExternalIdentityReused = errors.New("external identity already used by another trial")
	// ErrReactivationRequired триал истек: вместо продления требуется реактивация.
	ErrReactivationRequired = errors.New("trial expired, reactivation required")
	// ErrNotExpired реактивация запрошена для еще действующего триала.
	ErrNotExpired = errors.New("trial is not expired")
	// ErrConflictingTransition конкурирующий переход изменил запись первым.
	ErrConflictingTransition = errors.New("conflicting transition")
)

// CooldownError реактивация запрошена до окончания периода охлаждения.
type CooldownError struct {
	DaysRemaining int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("reactivation cooldown active: %d day(s) remaining", e.DaysRemaining)
}
