package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// SettingsRepository — доступ к единственной строке таблицы app_settings.
// Строка с id = 1 создаётся миграцией и никогда не удаляется.
type SettingsRepository interface {
	// Get возвращает текущие настройки приложения.
	Get(ctx context.Context) (*model.AppSettings, error)
	// Update применяет частичное обновление: изменяются только
	// не-nil поля. Возвращает настройки после обновления.
	Update(ctx context.Context, upd *model.SettingsUpdate) (*model.AppSettings, error)
}

// settingsRepo — реализация SettingsRepository через pgx.
type settingsRepo struct {
	db DBTX
}

// NewSettingsRepository создаёт репозиторий настроек.
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

const settingsColumns = `theme, auto_download, keep_originals, cleanup_ttl_minutes, updated_at`

func (r *settingsRepo) Get(ctx context.Context) (*model.AppSettings, error) {
	query := fmt.Sprintf(`SELECT %s FROM app_settings WHERE id = 1`, settingsColumns)

	s := &model.AppSettings{}
	err := r.db.QueryRow(ctx, query).Scan(
		&s.Theme, &s.AutoDownload, &s.KeepOriginals, &s.CleanupTTLMinutes, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	return s, nil
}

func (r *settingsRepo) Update(ctx context.Context, upd *model.SettingsUpdate) (*model.AppSettings, error) {
	var sets []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Theme != nil {
		add("theme", *upd.Theme)
	}
	if upd.AutoDownload != nil {
		add("auto_download", *upd.AutoDownload)
	}
	if upd.KeepOriginals != nil {
		add("keep_originals", *upd.KeepOriginals)
	}
	if upd.CleanupTTLMinutes != nil {
		add("cleanup_ttl_minutes", *upd.CleanupTTLMinutes)
	}
	if len(sets) == 0 {
		return r.Get(ctx)
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE app_settings SET %s WHERE id = 1
		RETURNING %s`, strings.Join(sets, ", "), settingsColumns)

	s := &model.AppSettings{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&s.Theme, &s.AutoDownload, &s.KeepOriginals, &s.CleanupTTLMinutes, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления настроек: %w", err)
	}
	return s, nil
}
