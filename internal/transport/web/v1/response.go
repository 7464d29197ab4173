package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/transport/web/mw"
)

// MapDomainError решает HTTP-статус + error.code/text для конверта
func MapDomainError(err error) (httpStatus int, env domain.APIEnvelope) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		if ve.Field == "size" {
			return http.StatusRequestEntityTooLarge, domain.Fail(domain.ErrCodeValidation, ve.Error())
		}
		return http.StatusUnprocessableEntity, domain.Fail(domain.ErrCodeValidation, ve.Error())
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, domain.Fail(domain.ErrCodeValidation, "validation failed")
	case errors.Is(err, domain.ErrConflict):
		// проигранная гонка: клиент может повторить запрос
		return http.StatusConflict, domain.Fail(domain.ErrCodeConflict, "conflict, retry")
	case errors.Is(err, domain.ErrLeaseHeld):
		return http.StatusConflict, domain.Fail(domain.ErrCodeConflict, "collection already running")
	case errors.Is(err, domain.ErrStorageIO):
		return http.StatusServiceUnavailable, domain.Fail(domain.ErrCodeStorage, "storage unavailable")
	case errors.Is(err, domain.ErrBadParams):
		return http.StatusBadRequest, domain.Fail(domain.ErrCodeBadParams, "bad params")
	case errors.Is(err, domain.ErrUnauth):
		return http.StatusUnauthorized, domain.Fail(domain.ErrCodeUnauth, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, domain.Fail(domain.ErrCodeForbidden, "forbidden")
	case errors.Is(err, domain.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, domain.Fail(domain.ErrCodeMethodNotAllowed, "method not allowed")
	case errors.Is(err, domain.ErrNotImplemented):
		return http.StatusNotImplemented, domain.Fail(domain.ErrCodeNotImplemented, "not implemented")
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.Fail(domain.ErrCodeNotFound, "not found")
	default:
		// ErrProcessing сюда не доходит: сбой вариантов не виден вызывающему
		return http.StatusInternalServerError, domain.Fail(domain.ErrCodeUnexpected, "unexpected")
	}
}

// WriteEnvelope пишет конверт; для HEAD — без тела
func WriteEnvelope(w http.ResponseWriter, r *http.Request, status int, env domain.APIEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", mw.RequestIDFromCtx(r.Context()))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(env)
}

// Шорткаты успеха
func WriteOKData(w http.ResponseWriter, r *http.Request, data any) {
	WriteEnvelope(w, r, http.StatusOK, domain.OkData(data))
}
func WriteCreatedData(w http.ResponseWriter, r *http.Request, data any) {
	WriteEnvelope(w, r, http.StatusCreated, domain.OkData(data))
}
func WriteOKResponse(w http.ResponseWriter, r *http.Request, resp any) {
	WriteEnvelope(w, r, http.StatusOK, domain.OkResponse(resp))
}

// Шорткаты ошибок
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := MapDomainError(err)
	WriteEnvelope(w, r, status, env)
}

// Стандартный формат времени заголовков
func HTTPTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
