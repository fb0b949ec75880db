package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/transmute/internal/config"
	"github.com/bigkaa/transmute/internal/converter"
	"github.com/bigkaa/transmute/internal/database"
	"github.com/bigkaa/transmute/internal/domain/model"
	"github.com/bigkaa/transmute/internal/registry"
	"github.com/bigkaa/transmute/internal/repository"
	"github.com/bigkaa/transmute/internal/storage/filestore"
)

// TestClassify проверяет перевод ошибок в коды заданий.
func TestClassify(t *testing.T) {
	code, _ := classify(converter.NewError(model.ErrCodeCorruptInput, "битый вход"))
	if code != model.ErrCodeCorruptInput {
		t.Errorf("code = %q, хотели %q", code, model.ErrCodeCorruptInput)
	}

	code, _ = classify(context.DeadlineExceeded)
	if code != model.ErrCodeTimeout {
		t.Errorf("code = %q, хотели %q", code, model.ErrCodeTimeout)
	}

	code, _ = classify(errors.New("что-то пошло не так"))
	if code != model.ErrCodeConverterCrashed {
		t.Errorf("code = %q, хотели %q", code, model.ErrCodeConverterCrashed)
	}
}

// TestOutputFilename проверяет замену расширения.
func TestOutputFilename(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		expected string
	}{
		{"фото.png", "jpeg", "фото.jpeg"},
		{"archive.tar.gz", "zip", "archive.tar.zip"},
		{"README", "txt", "README.txt"},
		{".png", "jpeg", "converted.jpeg"},
	}

	for _, tt := range tests {
		if got := outputFilename(tt.name, tt.format); got != tt.expected {
			t.Errorf("outputFilename(%q, %q) = %q, хотели %q", tt.name, tt.format, got, tt.expected)
		}
	}
}

// --- Интеграционные тесты движка ---

type testEnv struct {
	pool   *pgxpool.Pool
	store  *filestore.FileStore
	files  repository.FileRepository
	jobs   repository.JobRepository
	engine *Engine
}

// setupEngine поднимает PostgreSQL, File Store и движок с двумя воркерами.
func setupEngine(t *testing.T) *testEnv {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("transmute_test"),
		postgres.WithUsername("transmute"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	os.Setenv("TM_DB_HOST", host)
	os.Setenv("TM_DB_PORT", port.Port())
	os.Setenv("TM_DB_NAME", "transmute_test")
	os.Setenv("TM_DB_USER", "transmute")
	os.Setenv("TM_DB_PASSWORD", "test-password")
	os.Setenv("TM_DB_SSL_MODE", "disable")
	os.Setenv("TM_DATA_DIR", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		t.Fatalf("Ошибка создания File Store: %v", err)
	}

	reg := registry.New()
	reg.Register(converter.NewImageConverter(), 10)
	reg.Register(converter.NewDatasetConverter(), 10)

	files := repository.NewFileRepository(pool)
	jobs := repository.NewJobRepository(pool)
	settings := repository.NewSettingsRepository(pool)

	eng := New(files, jobs, settings, repository.NewTxRunner(pool), store, reg,
		2, 30*time.Second, logger)
	eng.Start(ctx)
	t.Cleanup(eng.Stop)

	return &testEnv{pool: pool, store: store, files: files, jobs: jobs, engine: eng}
}

// uploadPNG загружает тестовый PNG в File Store и БД.
func (env *testEnv) uploadPNG(t *testing.T, name string) *model.FileRecord {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("кодирование PNG: %v", err)
	}

	fileID := uuid.New().String()
	saved, err := env.store.Save(filestore.DirUploads, fileID, "png", &buf)
	if err != nil {
		t.Fatalf("сохранение в File Store: %v", err)
	}

	rec := &model.FileRecord{
		FileID:           fileID,
		Kind:             model.KindUpload,
		StoragePath:      saved.StoragePath,
		OriginalFilename: name,
		MediaType:        converter.MediaImage,
		Extension:        "png",
		SizeBytes:        saved.Size,
		Checksum:         saved.Checksum,
	}
	if err := env.files.Create(context.Background(), rec); err != nil {
		t.Fatalf("регистрация файла: %v", err)
	}
	return rec
}

// TestEngine_ConvertPNGToJPEG — полный цикл конвертации.
func TestEngine_ConvertPNGToJPEG(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	src := env.uploadPNG(t, "фото.png")

	job, err := env.engine.SubmitAndWait(ctx, &SubmitRequest{
		SourceFileID: src.FileID,
		OutputFormat: "jpg", // синоним jpeg
		Params:       map[string]string{"quality": "high"},
	})
	if err != nil {
		t.Fatalf("SubmitAndWait() ошибка: %v", err)
	}

	if job.Status != model.StatusComplete {
		t.Fatalf("Status = %q, хотели %q (ошибка: %v)", job.Status, model.StatusComplete, job.ErrorMessage)
	}
	if job.OutputFormat != "jpeg" {
		t.Errorf("OutputFormat = %q, хотели %q (нормализация синонима)", job.OutputFormat, "jpeg")
	}
	if job.OutputFileID == nil {
		t.Fatal("OutputFileID не установлен")
	}
	if job.Progress != 1 {
		t.Errorf("Progress = %v, хотели 1", job.Progress)
	}

	// Выходной файл зарегистрирован и лежит на диске
	out, err := env.files.GetByID(ctx, *job.OutputFileID)
	if err != nil {
		t.Fatalf("выходной файл не найден в БД: %v", err)
	}
	if out.Kind != model.KindConversion {
		t.Errorf("Kind = %q, хотели %q", out.Kind, model.KindConversion)
	}
	if out.OriginalFilename != "фото.jpeg" {
		t.Errorf("OriginalFilename = %q, хотели %q", out.OriginalFilename, "фото.jpeg")
	}
	if !env.store.Exists(out.StoragePath) {
		t.Error("байты выходного файла отсутствуют на диске")
	}

	// keep_originals по умолчанию включён — исходник на месте
	if _, err := env.files.GetByID(ctx, src.FileID); err != nil {
		t.Errorf("исходник удалён при keep_originals=true: %v", err)
	}
}

// TestEngine_UnsupportedFormat — пара вне реестра отклоняется до создания задания.
func TestEngine_UnsupportedFormat(t *testing.T) {
	env := setupEngine(t)
	src := env.uploadPNG(t, "фото.png")

	_, err := env.engine.SubmitAndWait(context.Background(), &SubmitRequest{
		SourceFileID: src.FileID,
		OutputFormat: "mp3",
	})
	var convErr *converter.Error
	if !errors.As(err, &convErr) || convErr.Code != model.ErrCodeUnsupportedFormat {
		t.Errorf("ожидался unsupported_format, получено: %v", err)
	}

	// Задание не создавалось
	jobs, _ := env.jobs.List(context.Background())
	if len(jobs) != 0 {
		t.Errorf("создано %d заданий, хотели 0", len(jobs))
	}
}

// TestEngine_SourceNotFound — несуществующий исходник.
func TestEngine_SourceNotFound(t *testing.T) {
	env := setupEngine(t)

	_, err := env.engine.SubmitAndWait(context.Background(), &SubmitRequest{
		SourceFileID: uuid.New().String(),
		OutputFormat: "jpeg",
	})
	var convErr *converter.Error
	if !errors.As(err, &convErr) || convErr.Code != model.ErrCodeNotFound {
		t.Errorf("ожидался not_found, получено: %v", err)
	}
}

// TestEngine_CorruptInput — битый исходник даёт failed задание.
func TestEngine_CorruptInput(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	saved, err := env.store.Save(filestore.DirUploads, fileID, "png",
		bytes.NewReader([]byte("это не изображение")))
	if err != nil {
		t.Fatalf("сохранение: %v", err)
	}
	rec := &model.FileRecord{
		FileID: fileID, Kind: model.KindUpload, StoragePath: saved.StoragePath,
		OriginalFilename: "битый.png", MediaType: converter.MediaImage,
		Extension: "png", SizeBytes: saved.Size, Checksum: saved.Checksum,
	}
	if err := env.files.Create(ctx, rec); err != nil {
		t.Fatalf("регистрация: %v", err)
	}

	job, err := env.engine.SubmitAndWait(ctx, &SubmitRequest{
		SourceFileID: fileID,
		OutputFormat: "jpeg",
	})
	if err != nil {
		t.Fatalf("SubmitAndWait() ошибка: %v", err)
	}

	if job.Status != model.StatusFailed {
		t.Fatalf("Status = %q, хотели %q", job.Status, model.StatusFailed)
	}
	if job.ErrorCode == nil || *job.ErrorCode != model.ErrCodeCorruptInput {
		t.Errorf("ErrorCode = %v, хотели %q", job.ErrorCode, model.ErrCodeCorruptInput)
	}
	if job.OutputFileID != nil {
		t.Error("у failed задания не должно быть выходного файла")
	}
}

// TestEngine_KeepOriginalsOff — исходник удаляется после успеха.
func TestEngine_KeepOriginalsOff(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	keep := false
	settings := repository.NewSettingsRepository(env.pool)
	if _, err := settings.Update(ctx, &model.SettingsUpdate{KeepOriginals: &keep}); err != nil {
		t.Fatalf("обновление настроек: %v", err)
	}

	src := env.uploadPNG(t, "одноразовый.png")
	job, err := env.engine.SubmitAndWait(ctx, &SubmitRequest{
		SourceFileID: src.FileID,
		OutputFormat: "bmp",
	})
	if err != nil {
		t.Fatalf("SubmitAndWait() ошибка: %v", err)
	}
	if job.Status != model.StatusComplete {
		t.Fatalf("Status = %q, хотели complete", job.Status)
	}

	// Исходник удалён из БД и с диска
	if _, err := env.files.GetByID(ctx, src.FileID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("исходник не удалён: %v", err)
	}
	if env.store.Exists(src.StoragePath) {
		t.Error("байты исходника остались на диске")
	}

	// Снапшот задания пережил удаление исходника
	got, _ := env.jobs.GetByID(ctx, job.JobID)
	if got.Source.Filename != "одноразовый.png" {
		t.Errorf("снапшот потерян: %q", got.Source.Filename)
	}
}

// TestEngine_Passthrough — конвертация в тот же формат копирует файл.
func TestEngine_Passthrough(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	src := env.uploadPNG(t, "копия.png")

	job, err := env.engine.SubmitAndWait(ctx, &SubmitRequest{
		SourceFileID: src.FileID,
		OutputFormat: "png",
	})
	if err != nil {
		t.Fatalf("SubmitAndWait() ошибка: %v", err)
	}
	if job.Status != model.StatusComplete {
		t.Fatalf("Status = %q, хотели complete (ошибка: %v)", job.Status, job.ErrorMessage)
	}

	out, err := env.files.GetByID(ctx, *job.OutputFileID)
	if err != nil {
		t.Fatalf("выходной файл не найден: %v", err)
	}
	if out.SizeBytes != src.SizeBytes {
		t.Errorf("размер копии %d, хотели %d", out.SizeBytes, src.SizeBytes)
	}
	if out.Checksum != src.Checksum {
		t.Errorf("checksum копии не совпадает с исходником")
	}
}

// TestEngine_EmptySource — пустой исходник отклоняется.
func TestEngine_EmptySource(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	fileID := uuid.New().String()
	saved, err := env.store.Save(filestore.DirUploads, fileID, "csv", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("сохранение: %v", err)
	}
	rec := &model.FileRecord{
		FileID: fileID, Kind: model.KindUpload, StoragePath: saved.StoragePath,
		OriginalFilename: "пустой.csv", MediaType: converter.MediaDataset,
		Extension: "csv", SizeBytes: 0, Checksum: saved.Checksum,
	}
	if err := env.files.Create(ctx, rec); err != nil {
		t.Fatalf("регистрация: %v", err)
	}

	_, err = env.engine.SubmitAndWait(ctx, &SubmitRequest{
		SourceFileID: fileID,
		OutputFormat: "json",
	})
	var convErr *converter.Error
	if !errors.As(err, &convErr) || convErr.Code != model.ErrCodeInvalidRequest {
		t.Errorf("ожидался invalid_request, получено: %v", err)
	}
}

// TestEngine_ConcurrentSubmits — параллельные задания завершаются независимо,
// каждое со своим выходным файлом.
func TestEngine_ConcurrentSubmits(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	const n = 6
	sources := make([]*model.FileRecord, n)
	for i := 0; i < n; i++ {
		sources[i] = env.uploadPNG(t, fmt.Sprintf("кадр-%d.png", i))
	}

	jobs := make([]*model.ConversionJob, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs[i], errs[i] = env.engine.SubmitAndWait(ctx, &SubmitRequest{
				SourceFileID: sources[i].FileID,
				OutputFormat: "jpeg",
			})
		}(i)
	}
	wg.Wait()

	seenOutputs := make(map[string]int)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("задание %d: SubmitAndWait() ошибка: %v", i, errs[i])
		}
		job := jobs[i]
		if job.Status != model.StatusComplete {
			t.Fatalf("задание %d: Status = %q, хотели complete (ошибка: %v)",
				i, job.Status, job.ErrorMessage)
		}
		if job.SourceFileID == nil || *job.SourceFileID != sources[i].FileID {
			t.Errorf("задание %d привязано к чужому исходнику: %v", i, job.SourceFileID)
		}
		seenOutputs[*job.OutputFileID]++

		// Результат каждого задания получен из своего исходника
		out, err := env.files.GetByID(ctx, *job.OutputFileID)
		if err != nil {
			t.Fatalf("задание %d: выходной файл не найден: %v", i, err)
		}
		want := fmt.Sprintf("кадр-%d.jpeg", i)
		if out.OriginalFilename != want {
			t.Errorf("задание %d: OriginalFilename = %q, хотели %q", i, out.OriginalFilename, want)
		}
	}
	if len(seenOutputs) != n {
		t.Errorf("выходных файлов %d, хотели %d уникальных", len(seenOutputs), n)
	}
}

// slowConverter зависает до отмены контекста. Для проверки лимита времени.
type slowConverter struct{}

func (slowConverter) ID() string { return "slow" }

func (slowConverter) Pairs() []converter.FormatPair {
	return []converter.FormatPair{{In: "png", Out: "jpeg"}}
}

func (slowConverter) Convert(ctx context.Context, req *converter.Request) (*converter.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestEngine_Timeout — превышение лимита времени даёт failed задание с кодом timeout.
func TestEngine_Timeout(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	src := env.uploadPNG(t, "вечный.png")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	reg := registry.New()
	reg.Register(slowConverter{}, 10)

	eng := New(env.files, env.jobs, repository.NewSettingsRepository(env.pool),
		repository.NewTxRunner(env.pool), env.store, reg,
		1, 100*time.Millisecond, logger)
	eng.Start(ctx)
	defer eng.Stop()

	job, err := eng.SubmitAndWait(ctx, &SubmitRequest{
		SourceFileID: src.FileID,
		OutputFormat: "jpeg",
	})
	if err != nil {
		t.Fatalf("SubmitAndWait() ошибка: %v", err)
	}

	if job.Status != model.StatusFailed {
		t.Fatalf("Status = %q, хотели %q", job.Status, model.StatusFailed)
	}
	if job.ErrorCode == nil || *job.ErrorCode != model.ErrCodeTimeout {
		t.Errorf("ErrorCode = %v, хотели %q", job.ErrorCode, model.ErrCodeTimeout)
	}
	if job.OutputFileID != nil {
		t.Error("у задания с таймаутом не должно быть выходного файла")
	}
	// Исходник не тронут даже при keep_originals: задание не завершилось успехом
	if _, err := env.files.GetByID(ctx, src.FileID); err != nil {
		t.Errorf("исходник удалён после ошибки: %v", err)
	}
}
