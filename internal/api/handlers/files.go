// files.go — HTTP handlers файловых операций.
// Upload, List, Download, Delete, массовое удаление и batch-скачивание zip.
package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/transmute/internal/api/errors"
	"github.com/bigkaa/transmute/internal/converter"
	"github.com/bigkaa/transmute/internal/domain/model"
	"github.com/bigkaa/transmute/internal/registry"
	"github.com/bigkaa/transmute/internal/repository"
	"github.com/bigkaa/transmute/internal/storage/filestore"
)

// maxExtensionLen — предел длины расширения после санитизации.
const maxExtensionLen = 10

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	files       repository.FileRepository
	store       *filestore.FileStore
	reg         *registry.Registry
	maxFileSize int64
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	files repository.FileRepository,
	store *filestore.FileStore,
	reg *registry.Registry,
	maxFileSize int64,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		files:       files,
		store:       store,
		reg:         reg,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// uploadResponse — тело ответа POST /api/files.
type uploadResponse struct {
	Message  string        `json:"message"`
	Metadata *fileResponse `json:"metadata"`
}

// listResponse — тело ответа GET /api/files.
type listResponse struct {
	Files []*fileResponse `json:"files"`
}

// Upload обрабатывает POST /api/files.
// Multipart form: file (обязательно). Медиа-тип определяется по
// расширению с уточнением по сигнатуре содержимого.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.ValidationError(w, fmt.Sprintf("Файл превышает лимит %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	// Читаем заголовок содержимого для определения сигнатуры
	head := make([]byte, 3072)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		apierrors.InternalError(w, "Ошибка чтения загружаемого файла")
		return
	}
	head = head[:n]
	mtype := mimetype.Detect(head)

	// Расширение: из имени файла, при его отсутствии — из сигнатуры
	ext := sanitizeExtension(header.Filename)
	if ext == "" {
		ext = sanitizeExtension(mtype.Extension())
	}
	format := converter.Normalize(ext)
	mediaType := converter.MediaTypeFor(format)
	if mediaType == converter.MediaOther {
		mediaType = mediaCategoryFromMIME(mtype.String())
	}

	fileID := uuid.New().String()
	reader := io.MultiReader(bytes.NewReader(head), file)
	saved, err := h.store.Save(filestore.DirUploads, fileID, format, reader)
	if err != nil {
		h.logger.Error("ошибка сохранения загрузки",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка сохранения файла")
		return
	}

	rec := &model.FileRecord{
		FileID:           fileID,
		Kind:             model.KindUpload,
		StoragePath:      saved.StoragePath,
		OriginalFilename: header.Filename,
		MediaType:        mediaType,
		Extension:        format,
		SizeBytes:        saved.Size,
		Checksum:         saved.Checksum,
	}
	if err := h.files.Create(r.Context(), rec); err != nil {
		_ = h.store.Delete(saved.StoragePath)
		h.logger.Error("ошибка регистрации загрузки",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка регистрации файла")
		return
	}

	h.logger.Info("файл загружен",
		slog.String("file_id", fileID),
		slog.String("filename", header.Filename),
		slog.Int64("size", saved.Size),
	)

	meta := fileToAPI(rec)
	meta.CompatibleFormats = h.reg.CompatibleOutputs(format)
	writeJSON(w, http.StatusCreated, uploadResponse{
		Message:  "Файл загружен",
		Metadata: meta,
	})
}

// List обрабатывает GET /api/files.
// Фильтр: ?kind=upload|conversion, ?unconverted=true — загрузки
// без завершённой конвертации.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		list []*model.FileRecord
		err  error
	)

	if r.URL.Query().Get("unconverted") == "true" {
		list, err = h.files.ListUnconverted(r.Context())
	} else {
		kind := model.FileKind(r.URL.Query().Get("kind"))
		switch kind {
		case "", model.KindUpload, model.KindConversion:
		default:
			apierrors.ValidationError(w, "Параметр kind должен быть upload или conversion")
			return
		}
		list, err = h.files.List(r.Context(), kind)
	}
	if err != nil {
		h.logger.Error("ошибка получения списка файлов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка файлов")
		return
	}

	resp := make([]*fileResponse, 0, len(list))
	for _, f := range list {
		item := fileToAPI(f)
		if f.Kind == model.KindUpload {
			item.CompatibleFormats = h.reg.CompatibleOutputs(converter.Normalize(f.Extension))
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, listResponse{Files: resp})
}

// Download обрабатывает GET /api/files/{file_id}.
// Отдаёт байты файла с Content-Disposition attachment.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	rec, err := h.files.GetByID(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Файл не найден")
			return
		}
		apierrors.InternalError(w, "Ошибка получения файла")
		return
	}

	f, err := h.store.Open(rec.StoragePath)
	if err != nil {
		h.logger.Error("байты файла отсутствуют на диске",
			slog.String("file_id", fileID),
			slog.String("storage_path", rec.StoragePath),
		)
		apierrors.InternalError(w, "Байты файла недоступны")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", mimeTypeFor(rec.Extension))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", rec.SizeBytes))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(rec.OriginalFilename, `"`, "")))
	_, _ = io.Copy(w, f)
}

// Delete обрабатывает DELETE /api/files/{file_id}.
// Исходник активного задания удалить нельзя (409).
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	path, err := h.files.Delete(r.Context(), fileID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			apierrors.NotFound(w, "Файл не найден")
		case errors.Is(err, repository.ErrConflict):
			apierrors.Conflict(w, "Файл используется активным заданием конвертации")
		default:
			h.logger.Error("ошибка удаления файла",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Ошибка удаления файла")
		}
		return
	}

	if err := h.store.Delete(path); err != nil {
		h.logger.Warn("не удалось удалить байты файла",
			slog.String("storage_path", path),
			slog.String("error", err.Error()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll обрабатывает DELETE /api/files/all.
// Удаляет все файлы, кроме исходников активных заданий.
// Завершённые задания уходят каскадом вместе со своими выходами.
func (h *FilesHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.files.List(r.Context(), "")
	if err != nil {
		apierrors.InternalError(w, "Ошибка получения списка файлов")
		return
	}

	var ids []string
	for _, f := range list {
		active, err := h.files.CountActiveJobsForSource(r.Context(), f.FileID)
		if err != nil {
			apierrors.InternalError(w, "Ошибка проверки активных заданий")
			return
		}
		if active == 0 {
			ids = append(ids, f.FileID)
		}
	}

	paths, err := h.files.DeleteByIDs(r.Context(), ids)
	if err != nil {
		h.logger.Error("ошибка массового удаления", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка удаления файлов")
		return
	}
	for _, p := range paths {
		if err := h.store.Delete(p); err != nil {
			h.logger.Warn("не удалось удалить байты файла",
				slog.String("storage_path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("массовое удаление выполнено", slog.Int("deleted", len(paths)))
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(paths)})
}

// batchRequest — тело POST /api/files/batch.
type batchRequest struct {
	FileIDs []string `json:"file_ids"`
}

// batchErrorsEntry — имя манифеста ошибок внутри архива.
const batchErrorsEntry = "_errors.txt"

// Batch обрабатывает POST /api/files/batch.
// Отдаёт zip-архив с запрошенными файлами. Ошибки отдельных элементов
// не прерывают архив: они перечисляются в манифесте _errors.txt.
// 404 — только если ни один из запрошенных файлов не найден.
func (h *FilesHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if len(req.FileIDs) == 0 {
		apierrors.ValidationError(w, "Список file_ids пуст")
		return
	}

	// Записи резолвятся до начала потока: после первого байта zip
	// статус ответа менять поздно
	var (
		records  []*model.FileRecord
		failures []string
	)
	for _, id := range req.FileIDs {
		rec, err := h.files.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				failures = append(failures, fmt.Sprintf("%s: файл не найден", id))
				continue
			}
			apierrors.InternalError(w, "Ошибка получения файла")
			return
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		apierrors.NotFound(w, "Ни один из запрошенных файлов не найден")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="transmute-files.zip"`)
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	defer zw.Close()

	seen := map[string]int{}
	for _, rec := range records {
		f, err := h.store.Open(rec.StoragePath)
		if err != nil {
			failures = append(failures,
				fmt.Sprintf("%s (%s): байты недоступны", rec.FileID, rec.OriginalFilename))
			h.logger.Warn("файл пропущен в архиве: байты недоступны",
				slog.String("file_id", rec.FileID),
			)
			continue
		}

		name := uniqueZipName(rec.OriginalFilename, seen)
		entry, err := zw.Create(name)
		if err != nil {
			f.Close()
			h.logger.Error("ошибка записи zip", slog.String("error", err.Error()))
			return
		}
		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			h.logger.Error("ошибка потоковой записи в архив",
				slog.String("file_id", rec.FileID),
				slog.String("error", err.Error()),
			)
			return
		}
		f.Close()
	}

	// Манифест ошибок — последним элементом архива
	if len(failures) > 0 {
		entry, err := zw.Create(batchErrorsEntry)
		if err != nil {
			return
		}
		_, _ = io.WriteString(entry, strings.Join(failures, "\n")+"\n")
	}
}

// uniqueZipName делает имена записей архива уникальными:
// повторное имя получает суффикс " (n)" перед расширением.
func uniqueZipName(name string, seen map[string]int) string {
	seen[name]++
	if seen[name] == 1 {
		return name
	}
	ext := ""
	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	return fmt.Sprintf("%s (%d)%s", base, seen[name]-1, ext)
}

// sanitizeExtension извлекает безопасное расширение из имени файла:
// нижний регистр, только латиница и цифры, не длиннее maxExtensionLen.
func sanitizeExtension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	ext := strings.ToLower(filename[i+1:])
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() > maxExtensionLen {
		return b.String()[:maxExtensionLen]
	}
	return b.String()
}

// mediaCategoryFromMIME относит MIME-тип сигнатуры к категории файла.
func mediaCategoryFromMIME(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return converter.MediaImage
	case strings.HasPrefix(mime, "audio/"):
		return converter.MediaAudio
	case strings.HasPrefix(mime, "video/"):
		return converter.MediaVideo
	case strings.HasPrefix(mime, "text/csv"), strings.HasPrefix(mime, "application/json"):
		return converter.MediaDataset
	default:
		return converter.MediaOther
	}
}

// mimeTypeFor возвращает Content-Type для известных форматов.
func mimeTypeFor(ext string) string {
	switch converter.Normalize(ext) {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "csv":
		return "text/csv"
	case "json":
		return "application/json"
	case "yaml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
