package model

import "time"

// JobStatus — статус задания конвертации.
// Переходы монотонны: pending → running → {complete | failed}.
// Из терминального состояния переходов нет.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusRunning  JobStatus = "running"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
)

// Terminal возвращает true для complete и failed.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ErrorCode — машиночитаемый код ошибки конвертации.
type ErrorCode string

const (
	// ErrCodeInvalidRequest — некорректный запрос (формат, пустой файл, несовпадение типа)
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	// ErrCodeNotFound — неизвестный файл или задание
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeUnsupportedFormat — нет конвертера для пары форматов
	ErrCodeUnsupportedFormat ErrorCode = "unsupported_format"
	// ErrCodeCorruptInput — конвертер не смог прочитать входные байты
	ErrCodeCorruptInput ErrorCode = "corrupt_input"
	// ErrCodeConverterCrashed — конвертер упал или выдал невалидный результат
	ErrCodeConverterCrashed ErrorCode = "converter_crashed"
	// ErrCodeTimeout — превышен лимит времени конвертации
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeStorageFailure — ошибка File Store или Metadata Store
	ErrCodeStorageFailure ErrorCode = "storage_failure"
	// ErrCodeConflict — удаление ресурса, на который ссылается активное задание
	ErrCodeConflict ErrorCode = "conflict"
)

// SourceSnapshot — денормализованная копия метаданных исходного файла.
// Хранится в задании, чтобы история конвертаций оставалась читаемой
// после удаления исходника (исходная запись удаляется, снапшот — нет).
type SourceSnapshot struct {
	Filename  string
	MediaType string
	Extension string
	SizeBytes int64
}

// ConversionJob — одно задание конвертации и его связь
// «выходной FileRecord → исходный FileRecord».
// Инвариант: OutputFileID заполнен только при Status == complete.
type ConversionJob struct {
	// JobID — UUID задания
	JobID string
	// SourceFileID — исходный файл; nil после удаления исходника
	SourceFileID *string
	// OutputFileID — выходной файл; nil до успешного завершения
	OutputFileID *string
	// Status — текущий статус
	Status JobStatus
	// Progress — прогресс 0.0–1.0 (грубая оценка: 0 pending, 0.5 running, 1 terminal)
	Progress float64
	// InputFormat, OutputFormat — нормализованные форматы запроса
	InputFormat  string
	OutputFormat string
	// Params — параметры конвертера (например quality)
	Params map[string]string
	// ErrorCode, ErrorMessage — заполняются только при failed
	ErrorCode    *ErrorCode
	ErrorMessage *string
	// Source — снапшот метаданных исходника
	Source SourceSnapshot
	// CreatedAt, StartedAt, FinishedAt — временные метки жизненного цикла
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// CompletedConversion — завершённая конвертация для списков истории:
// выходной файл плюс снапшот исходника.
type CompletedConversion struct {
	Job    *ConversionJob
	Output *FileRecord
}
