// Пакет errors — конструкторы стандартных ошибок HTTP API Transmute.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeCorruptInput      = "CORRUPT_INPUT"
	CodeConverterCrashed  = "CONVERTER_CRASHED"
	CodeTimeout           = "TIMEOUT"
	CodeConflict          = "CONFLICT"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// UnsupportedFormat — 400 нет конвертера для пары форматов.
func UnsupportedFormat(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeUnsupportedFormat, message)
}

// Conflict — 409 конфликт (ресурс используется активным заданием).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromJobError подбирает HTTP-статус и код по коду ошибки задания.
// Используется обработчиком POST /api/conversions.
func FromJobError(w http.ResponseWriter, code model.ErrorCode, message string) {
	switch code {
	case model.ErrCodeInvalidRequest:
		ValidationError(w, message)
	case model.ErrCodeNotFound:
		NotFound(w, message)
	case model.ErrCodeUnsupportedFormat:
		UnsupportedFormat(w, message)
	case model.ErrCodeCorruptInput:
		WriteError(w, http.StatusUnprocessableEntity, CodeCorruptInput, message)
	case model.ErrCodeTimeout:
		WriteError(w, http.StatusGatewayTimeout, CodeTimeout, message)
	case model.ErrCodeConflict:
		Conflict(w, message)
	case model.ErrCodeConverterCrashed:
		WriteError(w, http.StatusInternalServerError, CodeConverterCrashed, message)
	default:
		InternalError(w, message)
	}
}
