package model

import (
	"fmt"
	"time"
)

// Theme — косметическая тема UI. На работу ядра не влияет,
// но значение валидируется при сохранении.
type Theme string

const (
	ThemeRubedo     Theme = "rubedo"
	ThemeCitrinitas Theme = "citrinitas"
	ThemeViriditas  Theme = "viriditas"
	ThemeNigredo    Theme = "nigredo"
	ThemeAlbedo     Theme = "albedo"
)

// ValidThemes — допустимые значения темы.
var ValidThemes = []Theme{ThemeRubedo, ThemeCitrinitas, ThemeViriditas, ThemeNigredo, ThemeAlbedo}

// ParseTheme валидирует строковое значение темы.
func ParseTheme(s string) (Theme, error) {
	for _, t := range ValidThemes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("недопустимая тема %q, допустимые: %v", s, ValidThemes)
}

// AppSettings — единственная запись настроек приложения.
// Снимок: обработчики читают целиком, изменяют через частичный Update.
type AppSettings struct {
	// Theme — активная тема UI
	Theme Theme
	// AutoDownload — автозагрузка результата на стороне клиента
	AutoDownload bool
	// KeepOriginals — сохранять ли исходник после успешной конвертации.
	// При false движок удаляет исходный файл в success-path.
	KeepOriginals bool
	// CleanupTTLMinutes — возраст, после которого TTL-очистка удаляет файлы
	CleanupTTLMinutes int
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
}

// SettingsUpdate — частичное обновление настроек: nil-поля не меняются.
type SettingsUpdate struct {
	Theme             *Theme
	AutoDownload      *bool
	KeepOriginals     *bool
	CleanupTTLMinutes *int
}

// DefaultSettings — значения первого запуска.
func DefaultSettings() AppSettings {
	return AppSettings{
		Theme:             ThemeRubedo,
		AutoDownload:      false,
		KeepOriginals:     true,
		CleanupTTLMinutes: 60,
	}
}
