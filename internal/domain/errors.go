package domain

import (
	"errors"
	"fmt"
)

// Бизнес-ошибки (маппятся на HTTP коды в transport/web/v1)
var (
	ErrBadParams        = errors.New("bad_params")         // 400
	ErrUnauth           = errors.New("unauthorized")       // 401
	ErrForbidden        = errors.New("forbidden")          // 403
	ErrNotFound         = errors.New("not_found")          // 404
	ErrMethodNotAllowed = errors.New("method_not_allowed") // 405
	ErrNotImplemented   = errors.New("not_implemented")    // 501
	ErrUnexpected       = errors.New("unexpected")         // 500
)

// Таксономия медиа-подсистемы
var (
	ErrValidation = errors.New("validation") // размер/тип — отклонено до записи
	ErrConflict   = errors.New("conflict")   // проигранная гонка dedup/слота, можно повторить
	ErrStorageIO  = errors.New("storage_io") // сбой записи/удаления файла
	ErrProcessing = errors.New("processing") // сбой генерации вариантов, наружу не отдаём
	ErrLeaseHeld  = errors.New("lease_held") // аренду сборщика держит другой процесс
)

// ValidationError — структурированная ошибка валидации входа
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError оборачивает ошибку ввода-вывода хранилища
func StorageError(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrStorageIO, op, key, err)
}
