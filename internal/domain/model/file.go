// Пакет model — доменные модели Transmute: файлы, задания конвертации,
// настройки приложения.
package model

import (
	"time"
)

// FileKind — происхождение файла: загрузка пользователя или результат конвертации.
type FileKind string

const (
	// KindUpload — файл, загруженный пользователем.
	KindUpload FileKind = "upload"
	// KindConversion — файл, созданный движком конвертации.
	KindConversion FileKind = "conversion"
)

// FileRecord — метаданные одного хранимого файла.
// Покрывает и загрузки, и результаты конвертаций (поле Kind).
// StoragePath принадлежит исключительно этой записи: содержимое
// по пути никогда не изменяется, «изменённый» файл — это новый путь.
type FileRecord struct {
	// FileID — UUID, генерируется при создании записи, неизменяемый
	FileID string
	// Kind — upload или conversion
	Kind FileKind
	// StoragePath — относительный путь в File Store
	StoragePath string
	// OriginalFilename — имя файла при загрузке (для конвертаций — имя исходника)
	OriginalFilename string
	// MediaType — категория содержимого (image, audio, video, dataset, other)
	MediaType string
	// Extension — нормализованное расширение без точки ("jpeg")
	Extension string
	// SizeBytes — размер содержимого
	SizeBytes int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
	// CreatedAt — время создания записи
	CreatedAt time.Time
}
