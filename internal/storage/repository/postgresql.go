// Package repository реализует хранилище записей триала на основе PostgreSQL.
// Предоставляет поиск по внутреннему id, отпечатку устройства и внешней
// идентичности, а также условное обновление стадии (guarded update),
// через которое выражаются все переходы жизненного цикла.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки хранилища, на которые опирается сервисный слой.
var (
	// ErrTrialNotFound запись не найдена.
	ErrTrialNotFound = errors.New("trial not found")
	// ErrDeviceIDTaken отпечаток устройства уже принадлежит другой записи.
	ErrDeviceIDTaken = errors.New("device id already taken")
	// ErrExternalIDTaken внешняя идентичность уже привязана к неконвертированной записи.
	ErrExternalIDTaken = errors.New("external id already taken")
)

const (
	uniqueViolationCode = "23505"
	deviceIndexName     = "uq_trials_device_id"
	externalIDIndexName = "uq_trials_external_id_active"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'trials'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table trials missing or query error: %w", err)
	}
	return nil
}

// mapUniqueViolation переводит нарушение уникального индекса
// в ошибку хранилища; прочие ошибки возвращает как есть.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		switch pgErr.ConstraintName {
		case deviceIndexName:
			return ErrDeviceIDTaken
		case externalIDIndexName:
			return ErrExternalIDTaken
		}
	}
	return err
}
