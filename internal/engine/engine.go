// Пакет engine — движок конвертации.
// Принимает задания, ставит их в очередь и выполняет пулом воркеров:
// pending → running → complete | failed. Запись выходного файла
// и перевод задания в complete атомарны (одна транзакция БД).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/transmute/internal/converter"
	"github.com/bigkaa/transmute/internal/domain/model"
	"github.com/bigkaa/transmute/internal/registry"
	"github.com/bigkaa/transmute/internal/repository"
	"github.com/bigkaa/transmute/internal/storage/filestore"
)

// Prometheus метрики движка
var (
	// jobsTotal — количество заданий по итоговому статусу.
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm_jobs_total",
		Help: "Общее количество заданий конвертации по статусу",
	}, []string{"status"})

	// jobDurationSeconds — длительность выполнения задания.
	jobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tm_job_duration_seconds",
		Help:    "Длительность выполнения задания конвертации в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	// queueDepth — текущая глубина очереди заданий.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tm_jobs_queue_depth",
		Help: "Количество заданий, ожидающих воркера",
	})
)

// queueCapacity — ёмкость очереди заданий.
const queueCapacity = 64

// SubmitRequest — запрос на конвертацию загруженного файла.
type SubmitRequest struct {
	// SourceFileID — UUID загруженного исходника
	SourceFileID string
	// OutputFormat — желаемый выходной формат (до нормализации)
	OutputFormat string
	// Params — параметры конвертации (quality и т.п.)
	Params map[string]string
}

// task — задание в очереди воркеров.
type task struct {
	jobID string
	done  chan struct{}
}

// Engine — движок конвертации с пулом воркеров.
type Engine struct {
	files    repository.FileRepository
	jobs     repository.JobRepository
	settings repository.SettingsRepository
	tx       *repository.TxRunner
	store    *filestore.FileStore
	reg      *registry.Registry
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	queue  chan *task
	group  *errgroup.Group
	cancel context.CancelFunc
}

// New создаёт движок конвертации.
func New(
	files repository.FileRepository,
	jobs repository.JobRepository,
	settings repository.SettingsRepository,
	tx *repository.TxRunner,
	store *filestore.FileStore,
	reg *registry.Registry,
	workers int,
	timeout time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		files:    files,
		jobs:     jobs,
		settings: settings,
		tx:       tx,
		store:    store,
		reg:      reg,
		workers:  workers,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "engine")),
		queue:    make(chan *task, queueCapacity),
	}
}

// Start запускает пул воркеров. Вызывается один раз при старте приложения.
func (e *Engine) Start(ctx context.Context) {
	ectx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ectx)
	e.group = g
	for i := 0; i < e.workers; i++ {
		worker := i
		g.Go(func() error {
			e.runWorker(gctx, worker)
			return nil
		})
	}

	e.logger.Info("движок конвертации запущен",
		slog.Int("workers", e.workers),
		slog.String("timeout", e.timeout.String()),
	)
}

// Stop останавливает воркеры и дожидается их завершения.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.group != nil {
		_ = e.group.Wait()
	}
	e.logger.Info("движок конвертации остановлен")
}

// Submit валидирует запрос, создаёт задание в статусе pending
// и ставит его в очередь. Возвращает созданное задание.
func (e *Engine) Submit(ctx context.Context, req *SubmitRequest) (*model.ConversionJob, error) {
	job, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	t := &task{jobID: job.JobID, done: make(chan struct{})}
	select {
	case e.queue <- t:
		queueDepth.Inc()
	case <-ctx.Done():
		_ = e.jobs.MarkFailed(context.WithoutCancel(ctx), job.JobID,
			model.ErrCodeTimeout, "запрос отменён до постановки в очередь")
		return nil, ctx.Err()
	}
	return job, nil
}

// SubmitAndWait ставит задание в очередь и блокируется до его
// терминального статуса. Используется синхронным HTTP-эндпоинтом.
func (e *Engine) SubmitAndWait(ctx context.Context, req *SubmitRequest) (*model.ConversionJob, error) {
	job, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	t := &task{jobID: job.JobID, done: make(chan struct{})}
	select {
	case e.queue <- t:
		queueDepth.Inc()
	case <-ctx.Done():
		_ = e.jobs.MarkFailed(context.WithoutCancel(ctx), job.JobID,
			model.ErrCodeTimeout, "запрос отменён до постановки в очередь")
		return nil, ctx.Err()
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		// Клиент отключился; задание доработает в фоне
		return nil, ctx.Err()
	}

	return e.jobs.GetByID(ctx, job.JobID)
}

// prepare — валидации запроса и создание строки задания.
func (e *Engine) prepare(ctx context.Context, req *SubmitRequest) (*model.ConversionJob, error) {
	src, err := e.files.GetByID(ctx, req.SourceFileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, converter.NewError(model.ErrCodeNotFound, "исходный файл не найден")
		}
		return nil, err
	}
	if src.Kind != model.KindUpload {
		return nil, converter.NewError(model.ErrCodeInvalidRequest,
			"конвертировать можно только загруженные файлы")
	}
	if src.SizeBytes == 0 {
		return nil, converter.NewError(model.ErrCodeInvalidRequest, "исходный файл пуст")
	}

	inFormat := converter.Normalize(src.Extension)
	outFormat := converter.Normalize(req.OutputFormat)
	if outFormat == "" {
		return nil, converter.NewError(model.ErrCodeInvalidRequest, "выходной формат не указан")
	}

	// Пара должна поддерживаться до создания задания.
	// Конвертация в тот же формат — passthrough-копия.
	if inFormat != outFormat {
		if _, ok := e.reg.Resolve(inFormat, outFormat); !ok {
			return nil, converter.NewError(model.ErrCodeUnsupportedFormat,
				fmt.Sprintf("конвертация %s → %s не поддерживается", inFormat, outFormat))
		}
	}

	job := &model.ConversionJob{
		JobID:        uuid.New().String(),
		SourceFileID: &src.FileID,
		InputFormat:  inFormat,
		OutputFormat: outFormat,
		Params:       req.Params,
		Source: model.SourceSnapshot{
			Filename:  src.OriginalFilename,
			MediaType: src.MediaType,
			Extension: src.Extension,
			SizeBytes: src.SizeBytes,
		},
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// runWorker — цикл одного воркера.
func (e *Engine) runWorker(ctx context.Context, id int) {
	logger := e.logger.With(slog.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queue:
			queueDepth.Dec()
			e.process(ctx, t, logger)
		}
	}
}

// process выполняет одно задание от running до терминального статуса.
func (e *Engine) process(ctx context.Context, t *task, logger *slog.Logger) {
	defer close(t.done)
	start := time.Now()

	job, err := e.jobs.GetByID(ctx, t.jobID)
	if err != nil {
		logger.Error("задание из очереди не найдено",
			slog.String("job_id", t.jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Задание могло быть переведено в failed до выборки из очереди
	// (отмена клиентом в Submit)
	if job.Status.Terminal() {
		logger.Warn("задание уже в терминальном статусе",
			slog.String("job_id", job.JobID),
			slog.String("status", string(job.Status)),
		)
		return
	}

	if err := e.jobs.MarkRunning(ctx, job.JobID); err != nil {
		logger.Warn("задание уже обработано",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	logger.Info("конвертация начата",
		slog.String("job_id", job.JobID),
		slog.String("input", job.InputFormat),
		slog.String("output", job.OutputFormat),
	)

	if err := e.execute(ctx, job); err != nil {
		code, message := classify(err)
		if mErr := e.jobs.MarkFailed(context.WithoutCancel(ctx), job.JobID, code, message); mErr != nil {
			logger.Error("не удалось записать ошибку задания",
				slog.String("job_id", job.JobID),
				slog.String("error", mErr.Error()),
			)
		}
		jobsTotal.WithLabelValues(string(model.StatusFailed)).Inc()
		logger.Error("конвертация завершилась ошибкой",
			slog.String("job_id", job.JobID),
			slog.String("code", string(code)),
			slog.String("error", message),
		)
		return
	}

	jobsTotal.WithLabelValues(string(model.StatusComplete)).Inc()
	jobDurationSeconds.Observe(time.Since(start).Seconds())
	logger.Info("конвертация завершена",
		slog.String("job_id", job.JobID),
		slog.Duration("duration", time.Since(start)),
	)
}

// execute выполняет конвертер и фиксирует результат.
func (e *Engine) execute(ctx context.Context, job *model.ConversionJob) error {
	src, err := e.files.GetByID(ctx, *job.SourceFileID)
	if err != nil {
		return converter.WrapError(model.ErrCodeStorageFailure, "исходный файл недоступен", err)
	}
	inputPath := e.store.FullPath(src.StoragePath)
	if !e.store.Exists(src.StoragePath) {
		return converter.NewError(model.ErrCodeStorageFailure, "байты исходного файла отсутствуют на диске")
	}

	outputID := uuid.New().String()
	tmpOutput := filepath.Join(os.TempDir(), outputID+"."+job.OutputFormat)
	defer os.Remove(tmpOutput)

	result, err := e.runConverter(ctx, job, inputPath, tmpOutput)
	if err != nil {
		return err
	}
	if result != nil && result.Log != "" {
		e.logger.Debug("вывод конвертера",
			slog.String("job_id", job.JobID),
			slog.String("log", result.Log),
		)
	}

	info, err := os.Stat(tmpOutput)
	if err != nil {
		return converter.WrapError(model.ErrCodeConverterCrashed, "конвертер не создал выходной файл", err)
	}
	if info.Size() == 0 {
		return converter.NewError(model.ErrCodeConverterCrashed, "конвертер вернул пустой файл")
	}

	if _, err := e.persistOutput(ctx, job, outputID, tmpOutput); err != nil {
		return err
	}

	e.disposeSource(ctx, job, src)
	return nil
}

// runConverter запускает конвертер с таймаутом и защитой от паники.
func (e *Engine) runConverter(ctx context.Context, job *model.ConversionJob, inputPath, outputPath string) (result *converter.Result, err error) {
	// Тот же формат — копия без конвертера
	if job.InputFormat == job.OutputFormat {
		return nil, e.copyPassthrough(inputPath, outputPath)
	}

	conv, ok := e.reg.Resolve(job.InputFormat, job.OutputFormat)
	if !ok {
		// Пара проверялась в prepare; реестр после старта не меняется
		return nil, converter.NewError(model.ErrCodeUnsupportedFormat,
			fmt.Sprintf("конвертация %s → %s не поддерживается", job.InputFormat, job.OutputFormat))
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = converter.NewError(model.ErrCodeConverterCrashed,
				fmt.Sprintf("паника конвертера %s: %v", conv.ID(), r))
		}
	}()

	result, err = conv.Convert(cctx, &converter.Request{
		InputPath:    inputPath,
		OutputPath:   outputPath,
		InputFormat:  job.InputFormat,
		OutputFormat: job.OutputFormat,
		Params:       job.Params,
	})
	if err == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return nil, converter.NewError(model.ErrCodeTimeout, "конвертация превысила лимит времени")
	}
	return result, err
}

// copyPassthrough копирует исходник в выход без преобразования.
func (e *Engine) copyPassthrough(inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return converter.WrapError(model.ErrCodeStorageFailure, "ошибка чтения исходника", err)
	}
	if err := os.WriteFile(outputPath, data, 0o640); err != nil {
		return converter.WrapError(model.ErrCodeStorageFailure, "ошибка записи копии", err)
	}
	return nil
}

// persistOutput сохраняет выходной файл в File Store и атомарно
// фиксирует FileRecord + complete в одной транзакции.
func (e *Engine) persistOutput(ctx context.Context, job *model.ConversionJob, outputID, tmpOutput string) (*model.FileRecord, error) {
	f, err := os.Open(tmpOutput)
	if err != nil {
		return nil, converter.WrapError(model.ErrCodeStorageFailure, "ошибка открытия результата", err)
	}
	defer f.Close()

	saved, err := e.store.Save(filestore.DirOutputs, outputID, job.OutputFormat, f)
	if err != nil {
		return nil, converter.WrapError(model.ErrCodeStorageFailure, "ошибка сохранения результата", err)
	}

	out := &model.FileRecord{
		FileID:           outputID,
		Kind:             model.KindConversion,
		StoragePath:      saved.StoragePath,
		OriginalFilename: outputFilename(job.Source.Filename, job.OutputFormat),
		MediaType:        converter.MediaTypeFor(job.OutputFormat),
		Extension:        job.OutputFormat,
		SizeBytes:        saved.Size,
		Checksum:         saved.Checksum,
	}

	err = e.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := repository.NewFileRepository(tx).Create(ctx, out); err != nil {
			return err
		}
		return e.jobs.MarkComplete(ctx, tx, job.JobID, outputID)
	})
	if err != nil {
		// Транзакция не прошла — убираем осиротевшие байты
		_ = e.store.Delete(saved.StoragePath)
		return nil, converter.WrapError(model.ErrCodeStorageFailure, "ошибка фиксации результата", err)
	}
	return out, nil
}

// disposeSource удаляет исходник после успешной конвертации,
// если настройка keep_originals выключена. Исходник с другими
// активными заданиями не трогается.
func (e *Engine) disposeSource(ctx context.Context, job *model.ConversionJob, src *model.FileRecord) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		e.logger.Warn("не удалось прочитать настройки",
			slog.String("error", err.Error()),
		)
		return
	}
	if settings.KeepOriginals {
		return
	}

	path, err := e.files.Delete(ctx, src.FileID)
	if err != nil {
		if !errors.Is(err, repository.ErrConflict) && !errors.Is(err, repository.ErrNotFound) {
			e.logger.Warn("не удалось удалить исходник",
				slog.String("file_id", src.FileID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if err := e.store.Delete(path); err != nil {
		e.logger.Warn("не удалось удалить байты исходника",
			slog.String("storage_path", path),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("исходник удалён (keep_originals выключен)",
		slog.String("file_id", src.FileID),
		slog.String("job_id", job.JobID),
	)
}

// classify переводит ошибку выполнения в код ошибки задания.
func classify(err error) (model.ErrorCode, string) {
	var convErr *converter.Error
	if errors.As(err, &convErr) {
		return convErr.Code, convErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrCodeTimeout, "конвертация превысила лимит времени"
	}
	return model.ErrCodeConverterCrashed, err.Error()
}

// outputFilename заменяет расширение исходного имени на выходной формат.
func outputFilename(sourceName, outFormat string) string {
	ext := filepath.Ext(sourceName)
	base := strings.TrimSuffix(sourceName, ext)
	if base == "" {
		base = "converted"
	}
	return base + "." + outFormat
}
