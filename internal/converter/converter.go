// Пакет converter — конвертеры файлов между форматами.
// Каждый конвертер объявляет поддерживаемые пары форматов и выполняет
// преобразование файла на диске. Выбор конвертера для пары делает
// пакет registry.
package converter

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// Request — задание конвертеру: пути на диске и параметры.
type Request struct {
	// InputPath — абсолютный путь исходного файла
	InputPath string
	// OutputPath — абсолютный путь, куда записать результат
	OutputPath string
	// InputFormat — нормализованный входной формат (png, mp3, csv)
	InputFormat string
	// OutputFormat — нормализованный выходной формат
	OutputFormat string
	// Params — параметры конвертации (quality и т.п.)
	Params map[string]string
}

// Result — результат успешной конвертации.
type Result struct {
	// Log — диагностический вывод инструмента (хвост stderr ffmpeg).
	// Пустой для встроенных конвертеров.
	Log string
}

// FormatPair — поддерживаемая пара вход → выход.
type FormatPair struct {
	In  string
	Out string
}

// Converter — преобразователь файлов между форматами.
type Converter interface {
	// ID возвращает имя конвертера для логов и метрик.
	ID() string
	// Pairs возвращает все поддерживаемые пары форматов.
	Pairs() []FormatPair
	// Convert выполняет преобразование. Результат пишется в req.OutputPath.
	// Ошибки классифицируются через *Error.
	Convert(ctx context.Context, req *Request) (*Result, error)
}

// Error — классифицированная ошибка конвертации.
// Code попадает в error_code задания и определяет HTTP-статус ответа.
type Error struct {
	Code    model.ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создаёт классифицированную ошибку конвертации.
func NewError(code model.ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError создаёт классифицированную ошибку с причиной.
func WrapError(code model.ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// formatAliases — синонимы расширений, приводимые к каноническому формату.
var formatAliases = map[string]string{
	"jpg":  "jpeg",
	"tif":  "tiff",
	"yml":  "yaml",
	"mpeg": "mpg",
	"heif": "heic",
}

// Normalize приводит расширение к каноническому формату:
// нижний регистр, без точки, синонимы через formatAliases.
func Normalize(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if canonical, ok := formatAliases[f]; ok {
		return canonical
	}
	return f
}

// Категории форматов. Используются для проверки соответствия
// заявленного входного формата медиа-типу файла.
var (
	imageFormats = map[string]bool{
		"png": true, "jpeg": true, "gif": true, "bmp": true,
		"tiff": true, "webp": true, "ico": true, "heic": true,
	}
	audioFormats = map[string]bool{
		"mp3": true, "wav": true, "aac": true, "flac": true,
		"ogg": true, "m4a": true, "opus": true, "wma": true,
	}
	videoFormats = map[string]bool{
		"mp4": true, "avi": true, "mov": true, "mkv": true,
		"webm": true, "mpg": true, "m4v": true, "wmv": true, "flv": true,
	}
	datasetFormats = map[string]bool{
		"csv": true, "json": true, "yaml": true, "xlsx": true,
		"parquet": true, "tsv": true,
	}
)

// Медиа-типы файлов.
const (
	MediaImage   = "image"
	MediaAudio   = "audio"
	MediaVideo   = "video"
	MediaDataset = "dataset"
	MediaOther   = "other"
)

// MediaTypeFor возвращает категорию нормализованного формата.
func MediaTypeFor(format string) string {
	switch {
	case imageFormats[format]:
		return MediaImage
	case audioFormats[format]:
		return MediaAudio
	case videoFormats[format]:
		return MediaVideo
	case datasetFormats[format]:
		return MediaDataset
	default:
		return MediaOther
	}
}
