package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/trial-gatekeeper/internal/models"
)

const trialColumns = `id, device_id, external_id, external_username, email, stage,
	started_at, expires_at, extended_at, converted_entitlement_id, converted_at,
	flagged, flag_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrial(row rowScanner) (*models.TrialRecord, error) {
	var rec models.TrialRecord
	var stage string
	if err := row.Scan(&rec.ID, &rec.DeviceID, &rec.ExternalID, &rec.ExternalUsername,
		&rec.Email, &stage, &rec.StartedAt, &rec.ExpiresAt, &rec.ExtendedAt,
		&rec.ConvertedEntitlementID, &rec.ConvertedAt, &rec.Flagged, &rec.FlagReason,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Stage = models.Stage(stage)
	return &rec, nil
}

// CreateTrial вставляет новую запись триала и возвращает сохраненную строку.
func (s *Storage) CreateTrial(ctx context.Context, rec models.TrialRecord) (*models.TrialRecord, error) {
	const op = "storage.CreateTrial"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO trials (id, device_id, external_id, external_username, email,
	              stage, started_at, expires_at, extended_at, converted_entitlement_id,
	              converted_at, flagged, flag_reason)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          RETURNING ` + trialColumns
	row := s.DB.QueryRowContext(ctx, query,
		rec.ID, rec.DeviceID, rec.ExternalID, rec.ExternalUsername, rec.Email,
		string(rec.Stage), rec.StartedAt, rec.ExpiresAt, rec.ExtendedAt,
		rec.ConvertedEntitlementID, rec.ConvertedAt, rec.Flagged, rec.FlagReason)

	created, err := scanTrial(row)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return nil, fmt.Errorf("%s: %w", op, mapped)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// GetTrial возвращает запись триала по её ID.
func (s *Storage) GetTrial(ctx context.Context, id string) (*models.TrialRecord, error) {
	const op = "storage.GetTrial"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM trials WHERE id = $1`
	rec, err := scanTrial(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// FindTrialByDeviceID возвращает запись, которой принадлежит отпечаток устройства.
func (s *Storage) FindTrialByDeviceID(ctx context.Context, deviceID string) (*models.TrialRecord, error) {
	const op = "storage.FindTrialByDeviceID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM trials WHERE device_id = $1`
	rec, err := scanTrial(s.DB.QueryRowContext(ctx, query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// FindTrialByExternalID возвращает запись, к которой привязана внешняя идентичность.
// Конвертированные записи также учитываются: вызывающая сторона сама решает,
// как трактовать терминальную стадию.
func (s *Storage) FindTrialByExternalID(ctx context.Context, externalID string) (*models.TrialRecord, error) {
	const op = "storage.FindTrialByExternalID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM trials
	          WHERE external_id = $1
	          ORDER BY (stage <> 'converted') DESC, created_at DESC
	          LIMIT 1`
	rec, err := scanTrial(s.DB.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// FindTrialByEmail возвращает последнюю запись с указанным email.
// Email не уникален и используется только как резервный ключ конверсии.
func (s *Storage) FindTrialByEmail(ctx context.Context, email string) (*models.TrialRecord, error) {
	const op = "storage.FindTrialByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM trials
	          WHERE email = $1 AND email <> ''
	          ORDER BY created_at DESC
	          LIMIT 1`
	rec, err := scanTrial(s.DB.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// UpdateTrialGuarded применяет условное обновление: строка перезаписывается
// только если её текущая стадия равна expect. При несработавшем условии
// возвращается актуальная запись и ok=false, чтобы вызывающая сторона
// могла сообщить точную причину конфликта.
func (s *Storage) UpdateTrialGuarded(ctx context.Context, rec models.TrialRecord, expect models.Stage) (*models.TrialRecord, bool, error) {
	const op = "storage.UpdateTrialGuarded"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE trials
	          SET device_id = $1, external_id = $2, external_username = $3, email = $4,
	              stage = $5, started_at = $6, expires_at = $7, extended_at = $8,
	              converted_entitlement_id = $9, converted_at = $10, updated_at = now()
	          WHERE id = $11 AND stage = $12
	          RETURNING ` + trialColumns
	row := s.DB.QueryRowContext(ctx, query,
		rec.DeviceID, rec.ExternalID, rec.ExternalUsername, rec.Email,
		string(rec.Stage), rec.StartedAt, rec.ExpiresAt, rec.ExtendedAt,
		rec.ConvertedEntitlementID, rec.ConvertedAt, rec.ID, string(expect))

	updated, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		current, readErr := s.GetTrial(ctx, rec.ID)
		if readErr != nil {
			return nil, false, fmt.Errorf("%s: %w", op, readErr)
		}
		return current, false, nil
	}
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return nil, false, fmt.Errorf("%s: %w", op, mapped)
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return updated, true, nil
}

// UpdateTrialGuardedReleasingDevice выполняет условное обновление в одной
// транзакции с освобождением отпечатка устройства у прочих записей.
// При несработавшем условии транзакция откатывается целиком, устройство
// остается у прежнего владельца; возвращается актуальная запись и ok=false.
func (s *Storage) UpdateTrialGuardedReleasingDevice(ctx context.Context, rec models.TrialRecord, expect models.Stage, deviceID string) (*models.TrialRecord, bool, error) {
	const op = "storage.UpdateTrialGuardedReleasingDevice"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`UPDATE trials SET device_id = NULL, updated_at = now()
		 WHERE device_id = $1 AND id <> $2`, deviceID, rec.ID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE trials
	          SET device_id = $1, external_id = $2, external_username = $3, email = $4,
	              stage = $5, started_at = $6, expires_at = $7, extended_at = $8,
	              converted_entitlement_id = $9, converted_at = $10, updated_at = now()
	          WHERE id = $11 AND stage = $12
	          RETURNING ` + trialColumns
	row := tx.QueryRowContext(ctx, query,
		rec.DeviceID, rec.ExternalID, rec.ExternalUsername, rec.Email,
		string(rec.Stage), rec.StartedAt, rec.ExpiresAt, rec.ExtendedAt,
		rec.ConvertedEntitlementID, rec.ConvertedAt, rec.ID, string(expect))

	updated, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Откат вернет устройство прежнему владельцу.
		current, readErr := s.GetTrial(ctx, rec.ID)
		if readErr != nil {
			return nil, false, fmt.Errorf("%s: %w", op, readErr)
		}
		return current, false, nil
	}
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return nil, false, fmt.Errorf("%s: %w", op, mapped)
		}
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return updated, true, nil
}

// UpdateModeration выставляет флаг модерации, не затрагивая стадию.
func (s *Storage) UpdateModeration(ctx context.Context, id string, flagged bool, reason string) (*models.TrialRecord, error) {
	const op = "storage.UpdateModeration"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE trials
	          SET flagged = $1, flag_reason = $2, updated_at = now()
	          WHERE id = $3
	          RETURNING ` + trialColumns
	rec, err := scanTrial(s.DB.QueryRowContext(ctx, query, flagged, reason, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// RebindDevice атомарно переносит отпечаток устройства на указанную запись:
// сначала освобождает его у прежнего владельца, затем привязывает.
func (s *Storage) RebindDevice(ctx context.Context, id, deviceID string) (*models.TrialRecord, error) {
	const op = "storage.RebindDevice"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`UPDATE trials SET device_id = NULL, updated_at = now()
		 WHERE device_id = $1 AND id <> $2`, deviceID, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE trials SET device_id = $1, updated_at = now()
		 WHERE id = $2
		 RETURNING `+trialColumns, deviceID, id)
	rec, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrTrialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

// ReleaseDevice освобождает отпечаток устройства у всех записей, кроме keepID.
// Используется перед переносом устройства на запись внешней идентичности.
func (s *Storage) ReleaseDevice(ctx context.Context, deviceID, keepID string) error {
	const op = "storage.ReleaseDevice"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx,
		`UPDATE trials SET device_id = NULL, updated_at = now()
		 WHERE device_id = $1 AND id <> $2`, deviceID, keepID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListTrials возвращает записи с учетом фильтров и пагинации.
func (s *Storage) ListTrials(ctx context.Context, filter models.TrialFilter, limit, offset int) ([]*models.TrialRecord, error) {
	const op = "storage.ListTrials"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var stage *string
	if filter.Stage != nil {
		s := string(*filter.Stage)
		stage = &s
	}

	query := `SELECT ` + trialColumns + ` FROM trials
	          WHERE ($1::text IS NULL OR stage = $1)
	            AND ($2::boolean IS NULL OR flagged = $2)
	            AND ($3::int IS NULL OR (stage IN ('anonymous', 'extended')
	                 AND expires_at > $4
	                 AND expires_at <= $4 + make_interval(days => $3)))
	          ORDER BY created_at DESC
	          LIMIT $5 OFFSET $6`
	rows, err := s.DB.QueryContext(ctx, query,
		stage, filter.Flagged, filter.ExpiringWithinDays, time.Now().UTC(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.TrialRecord
	for rows.Next() {
		rec, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountTrialStats подсчитывает агрегированную статистику на момент now.
// Активные счетчики вычисляются по действующей стадии, а не по записанной.
func (s *Storage) CountTrialStats(ctx context.Context, now time.Time) (*models.TrialStats, error) {
	const op = "storage.CountTrialStats"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT
	              COUNT(*),
	              COUNT(*) FILTER (WHERE stage = 'anonymous' AND expires_at > $1),
	              COUNT(*) FILTER (WHERE stage = 'extended' AND expires_at > $1),
	              COUNT(*) FILTER (WHERE stage = 'expired'
	                  OR (stage IN ('anonymous', 'extended') AND expires_at <= $1)),
	              COUNT(*) FILTER (WHERE stage = 'converted'),
	              COUNT(*) FILTER (WHERE flagged),
	              COUNT(*) FILTER (WHERE stage IN ('anonymous', 'extended')
	                  AND expires_at > $1 AND expires_at <= $1 + INTERVAL '1 day'),
	              COUNT(*) FILTER (WHERE stage IN ('anonymous', 'extended')
	                  AND expires_at > $1 AND expires_at <= $1 + INTERVAL '7 days'),
	              COUNT(*) FILTER (WHERE extended_at IS NOT NULL)
	          FROM trials`

	var stats models.TrialStats
	err := s.DB.QueryRowContext(ctx, query, now).Scan(
		&stats.Total, &stats.ActiveAnonymous, &stats.ActiveExtended,
		&stats.Expired, &stats.Converted, &stats.Flagged,
		&stats.ExpiringToday, &stats.ExpiringThisWeek, &stats.EverExtended)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &stats, nil
}

// ListExpiryCandidates возвращает записи со стадией anonymous/extended,
// чей срок уже прошел, но стадия expired еще не записана.
func (s *Storage) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*models.TrialRecord, error) {
	const op = "storage.ListExpiryCandidates"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM trials
	          WHERE stage IN ('anonymous', 'extended') AND expires_at <= $1
	          ORDER BY expires_at
	          LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.TrialRecord
	for rows.Next() {
		rec, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
