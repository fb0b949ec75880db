// conversions.go — HTTP handlers заданий конвертации.
// Создание (синхронное: ответ после терминального статуса), списки,
// удаление задания вместе с выходным файлом.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/transmute/internal/api/errors"
	"github.com/bigkaa/transmute/internal/converter"
	"github.com/bigkaa/transmute/internal/domain/model"
	"github.com/bigkaa/transmute/internal/engine"
	"github.com/bigkaa/transmute/internal/repository"
	"github.com/bigkaa/transmute/internal/storage/filestore"
)

// ConversionsHandler — обработчик endpoints конвертации.
type ConversionsHandler struct {
	engine *engine.Engine
	jobs   repository.JobRepository
	files  repository.FileRepository
	store  *filestore.FileStore
	logger *slog.Logger
}

// NewConversionsHandler создаёт обработчик endpoints конвертации.
func NewConversionsHandler(
	eng *engine.Engine,
	jobs repository.JobRepository,
	files repository.FileRepository,
	store *filestore.FileStore,
	logger *slog.Logger,
) *ConversionsHandler {
	return &ConversionsHandler{
		engine: eng,
		jobs:   jobs,
		files:  files,
		store:  store,
		logger: logger.With(slog.String("component", "conversions_handler")),
	}
}

// createRequest — тело POST /api/conversions.
// input_format опционален: при указании он должен совпадать
// с фактическим форматом исходника.
type createRequest struct {
	ID           string            `json:"id"`
	InputFormat  string            `json:"input_format"`
	OutputFormat string            `json:"output_format"`
	Params       map[string]string `json:"params"`
}

// Create обрабатывает POST /api/conversions.
// Блокируется до терминального статуса задания: успешный ответ
// содержит дескриптор выходного файла, ошибка конвертации — её код.
func (h *ConversionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.ID == "" {
		apierrors.ValidationError(w, "Поле 'id' обязательно")
		return
	}
	if req.OutputFormat == "" {
		apierrors.ValidationError(w, "Поле 'output_format' обязательно")
		return
	}

	// Заявленный входной формат сверяется с фактическим до создания задания
	if req.InputFormat != "" {
		src, err := h.files.GetByID(r.Context(), req.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				apierrors.NotFound(w, "Исходный файл не найден")
				return
			}
			apierrors.InternalError(w, "Ошибка получения исходного файла")
			return
		}
		if converter.Normalize(req.InputFormat) != converter.Normalize(src.Extension) {
			apierrors.ValidationError(w,
				fmt.Sprintf("Заявленный входной формат %q не совпадает с форматом файла %q",
					req.InputFormat, src.Extension))
			return
		}
	}

	job, err := h.engine.SubmitAndWait(r.Context(), &engine.SubmitRequest{
		SourceFileID: req.ID,
		OutputFormat: req.OutputFormat,
		Params:       req.Params,
	})
	if err != nil {
		var convErr *converter.Error
		if errors.As(err, &convErr) {
			apierrors.FromJobError(w, convErr.Code, convErr.Message)
			return
		}
		h.logger.Error("ошибка создания задания", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания задания конвертации")
		return
	}

	// Терминальный статус failed — ошибка конвертации в теле ответа
	if job.Status == model.StatusFailed {
		code := model.ErrCodeConverterCrashed
		message := "конвертация завершилась ошибкой"
		if job.ErrorCode != nil {
			code = *job.ErrorCode
		}
		if job.ErrorMessage != nil {
			message = *job.ErrorMessage
		}
		apierrors.FromJobError(w, code, message)
		return
	}

	resp := conversionResponse{jobResponse: jobToAPI(job)}
	if job.OutputFileID != nil {
		if out, err := h.files.GetByID(r.Context(), *job.OutputFileID); err == nil {
			resp.Output = fileToAPI(out)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Get обрабатывает GET /api/conversions/{job_id}.
func (h *ConversionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Задание не найдено")
			return
		}
		apierrors.InternalError(w, "Ошибка получения задания")
		return
	}
	writeJSON(w, http.StatusOK, jobToAPI(job))
}

// ListComplete обрабатывает GET /api/conversions/complete.
// Завершённые конвертации с выходными файлами, новые первыми.
func (h *ConversionsHandler) ListComplete(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListComplete(r.Context())
	if err != nil {
		h.logger.Error("ошибка получения завершённых конвертаций", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка конвертаций")
		return
	}

	resp := make([]conversionResponse, 0, len(list))
	for _, c := range list {
		resp = append(resp, conversionResponse{
			jobResponse: jobToAPI(c.Job),
			Output:      fileToAPI(c.Output),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs обрабатывает GET /api/jobs.
// Все задания всех статусов, новые первыми.
func (h *ConversionsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("ошибка получения списка заданий", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка заданий")
		return
	}

	resp := make([]jobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToAPI(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete обрабатывает DELETE /api/conversions/{job_id}.
// Удаляет задание и его выходной файл (запись и байты).
func (h *ConversionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	path, err := h.jobs.Delete(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Задание не найдено")
			return
		}
		h.logger.Error("ошибка удаления задания",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка удаления задания")
		return
	}

	if path != "" {
		if err := h.store.Delete(path); err != nil {
			h.logger.Warn("не удалось удалить байты выходного файла",
				slog.String("storage_path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll обрабатывает DELETE /api/conversions/all.
// Удаляет все терминальные задания вместе с выходными файлами.
func (h *ConversionsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	paths, err := h.jobs.DeleteAll(r.Context())
	if err != nil {
		h.logger.Error("ошибка массового удаления заданий", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка удаления заданий")
		return
	}

	for _, p := range paths {
		if err := h.store.Delete(p); err != nil {
			h.logger.Warn("не удалось удалить байты выходного файла",
				slog.String("storage_path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("все конвертации удалены", slog.Int("outputs", len(paths)))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(paths)})
}
