// settings.go — HTTP handlers настроек приложения.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/bigkaa/transmute/internal/api/errors"
	"github.com/bigkaa/transmute/internal/domain/model"
	"github.com/bigkaa/transmute/internal/repository"
)

// SettingsHandler — обработчик endpoints настроек.
type SettingsHandler struct {
	settings repository.SettingsRepository
	logger   *slog.Logger
}

// NewSettingsHandler создаёт обработчик настроек.
func NewSettingsHandler(settings repository.SettingsRepository, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		logger:   logger.With(slog.String("component", "settings_handler")),
	}
}

// settingsResponse — представление настроек в API.
type settingsResponse struct {
	Theme             string    `json:"theme"`
	AutoDownload      bool      `json:"auto_download"`
	KeepOriginals     bool      `json:"keep_originals"`
	CleanupTTLMinutes int       `json:"cleanup_ttl_minutes"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func settingsToAPI(s *model.AppSettings) *settingsResponse {
	return &settingsResponse{
		Theme:             string(s.Theme),
		AutoDownload:      s.AutoDownload,
		KeepOriginals:     s.KeepOriginals,
		CleanupTTLMinutes: s.CleanupTTLMinutes,
		UpdatedAt:         s.UpdatedAt,
	}
}

// Get обрабатывает GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error("ошибка чтения настроек", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка чтения настроек")
		return
	}
	writeJSON(w, http.StatusOK, settingsToAPI(s))
}

// patchRequest — тело PATCH /api/settings. Присутствующие поля меняются,
// отсутствующие сохраняют значение.
type patchRequest struct {
	Theme             *string `json:"theme"`
	AutoDownload      *bool   `json:"auto_download"`
	KeepOriginals     *bool   `json:"keep_originals"`
	CleanupTTLMinutes *int    `json:"cleanup_ttl_minutes"`
}

// Patch обрабатывает PATCH /api/settings.
func (h *SettingsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	upd := &model.SettingsUpdate{
		AutoDownload:      req.AutoDownload,
		KeepOriginals:     req.KeepOriginals,
		CleanupTTLMinutes: req.CleanupTTLMinutes,
	}
	if req.Theme != nil {
		theme, err := model.ParseTheme(*req.Theme)
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf(
				"Неизвестная тема %q, допустимы: %s", *req.Theme, strings.Join(themeNames(), ", ")))
			return
		}
		upd.Theme = &theme
	}
	if req.CleanupTTLMinutes != nil && *req.CleanupTTLMinutes < 0 {
		apierrors.ValidationError(w, "cleanup_ttl_minutes не может быть отрицательным")
		return
	}

	s, err := h.settings.Update(r.Context(), upd)
	if err != nil {
		h.logger.Error("ошибка обновления настроек", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка обновления настроек")
		return
	}

	h.logger.Info("настройки обновлены",
		slog.String("theme", string(s.Theme)),
		slog.Bool("keep_originals", s.KeepOriginals),
		slog.Int("cleanup_ttl_minutes", s.CleanupTTLMinutes),
	)
	writeJSON(w, http.StatusOK, settingsToAPI(s))
}

// themeNames возвращает имена допустимых тем.
func themeNames() []string {
	names := make([]string, 0, len(model.ValidThemes))
	for _, t := range model.ValidThemes {
		names = append(names, string(t))
	}
	return names
}
