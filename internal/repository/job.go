package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// jobColumns — список столбцов таблицы conversion_jobs для SELECT-запросов.
const jobColumns = `job_id, source_file_id, output_file_id, status, progress,
	input_format, output_format, params, error_code, error_message,
	source_filename, source_media_type, source_extension, source_size_bytes,
	created_at, started_at, finished_at`

// JobRepository — интерфейс CRUD для таблицы conversion_jobs.
// Переходы статусов защищены WHERE-условием на текущий статус:
// UPDATE, не нашедший строку, означает недопустимый переход (ErrConflict).
type JobRepository interface {
	// Create вставляет задание в статусе pending.
	// Исходный файл должен существовать (FK) — иначе ErrNotFound.
	Create(ctx context.Context, j *model.ConversionJob) error
	// GetByID возвращает задание по UUID или ErrNotFound.
	GetByID(ctx context.Context, jobID string) (*model.ConversionJob, error)
	// List возвращает все задания, новые первыми.
	List(ctx context.Context) ([]*model.ConversionJob, error)
	// MarkRunning переводит pending → running.
	MarkRunning(ctx context.Context, jobID string) error
	// MarkComplete переводит running → complete и привязывает выходной файл.
	// Вызывается в одной транзакции со вставкой выходного FileRecord.
	MarkComplete(ctx context.Context, db DBTX, jobID, outputFileID string) error
	// MarkFailed переводит pending|running → failed и записывает ошибку.
	MarkFailed(ctx context.Context, jobID string, code model.ErrorCode, message string) error
	// ListComplete возвращает завершённые конвертации с выходным файлом
	// и снапшотом исходника.
	ListComplete(ctx context.Context) ([]*model.CompletedConversion, error)
	// Delete удаляет задание. Выходной FileRecord удаляется каскадом БД,
	// storage_path выхода возвращается для освобождения File Store.
	Delete(ctx context.Context, jobID string) (outputPath string, err error)
	// DeleteAll удаляет все терминальные задания, возвращает пути выходных файлов.
	DeleteAll(ctx context.Context) ([]string, error)
}

// jobRepo — реализация JobRepository через pgx.
type jobRepo struct {
	db DBTX
}

// NewJobRepository создаёт репозиторий заданий конвертации.
func NewJobRepository(db DBTX) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) Create(ctx context.Context, j *model.ConversionJob) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("ошибка сериализации params: %w", err)
	}
	if j.Params == nil {
		params = []byte(`{}`)
	}

	query := `
		INSERT INTO conversion_jobs (job_id, source_file_id, status, progress,
			input_format, output_format, params,
			source_filename, source_media_type, source_extension, source_size_bytes)
		VALUES ($1, $2, 'pending', 0, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err = r.db.QueryRow(ctx, query,
		j.JobID, j.SourceFileID, j.InputFormat, j.OutputFormat, params,
		j.Source.Filename, j.Source.MediaType, j.Source.Extension, j.Source.SizeBytes,
	).Scan(&j.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: исходный файл не существует", ErrNotFound)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: задание с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания задания: %w", err)
	}
	j.Status = model.StatusPending
	return nil
}

func (r *jobRepo) GetByID(ctx context.Context, jobID string) (*model.ConversionJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversion_jobs WHERE job_id = $1`, jobColumns)

	j, err := scanJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	return j, nil
}

func (r *jobRepo) List(ctx context.Context) ([]*model.ConversionJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversion_jobs ORDER BY created_at DESC`, jobColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заданий: %w", err)
	}
	defer rows.Close()

	var result []*model.ConversionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func (r *jobRepo) MarkRunning(ctx context.Context, jobID string) error {
	query := `
		UPDATE conversion_jobs
		SET status = 'running', progress = 0.5, started_at = NOW()
		WHERE job_id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("ошибка перевода задания в running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: задание не в статусе pending", ErrConflict)
	}
	return nil
}

// MarkComplete принимает DBTX явно: вызывается внутри транзакции
// вместе со вставкой выходного FileRecord.
func (r *jobRepo) MarkComplete(ctx context.Context, db DBTX, jobID, outputFileID string) error {
	query := `
		UPDATE conversion_jobs
		SET status = 'complete', progress = 1, output_file_id = $2, finished_at = NOW()
		WHERE job_id = $1 AND status = 'running'`

	tag, err := db.Exec(ctx, query, jobID, outputFileID)
	if err != nil {
		return fmt.Errorf("ошибка перевода задания в complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: задание не в статусе running", ErrConflict)
	}
	return nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, jobID string, code model.ErrorCode, message string) error {
	query := `
		UPDATE conversion_jobs
		SET status = 'failed', progress = 1, error_code = $2, error_message = $3, finished_at = NOW()
		WHERE job_id = $1 AND status IN ('pending', 'running')`

	tag, err := r.db.Exec(ctx, query, jobID, code, message)
	if err != nil {
		return fmt.Errorf("ошибка перевода задания в failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: задание уже в терминальном статусе", ErrConflict)
	}
	return nil
}

func (r *jobRepo) ListComplete(ctx context.Context) ([]*model.CompletedConversion, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM conversion_jobs j
		JOIN files f ON f.file_id = j.output_file_id
		WHERE j.status = 'complete'
		ORDER BY j.finished_at DESC`,
		prefixJobColumns("j"), prefixColumns("f"))

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения завершённых конвертаций: %w", err)
	}
	defer rows.Close()

	var result []*model.CompletedConversion
	for rows.Next() {
		j := &model.ConversionJob{}
		f := &model.FileRecord{}
		var params []byte
		if err := rows.Scan(
			&j.JobID, &j.SourceFileID, &j.OutputFileID, &j.Status, &j.Progress,
			&j.InputFormat, &j.OutputFormat, &params, &j.ErrorCode, &j.ErrorMessage,
			&j.Source.Filename, &j.Source.MediaType, &j.Source.Extension, &j.Source.SizeBytes,
			&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
			&f.FileID, &f.Kind, &f.StoragePath, &f.OriginalFilename, &f.MediaType,
			&f.Extension, &f.SizeBytes, &f.Checksum, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования конвертации: %w", err)
		}
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return nil, fmt.Errorf("ошибка десериализации params: %w", err)
		}
		result = append(result, &model.CompletedConversion{Job: j, Output: f})
	}
	return result, rows.Err()
}

// Delete удаляет задание и (через RETURNING-подзапрос) выходной файл.
// Выходной FileRecord удаляется вручную до задания, его storage_path
// возвращается вызывающему для удаления байтов из File Store.
func (r *jobRepo) Delete(ctx context.Context, jobID string) (string, error) {
	// Сначала читаем выходной файл задания
	var outputID *string
	err := r.db.QueryRow(ctx,
		`SELECT output_file_id FROM conversion_jobs WHERE job_id = $1`, jobID,
	).Scan(&outputID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка чтения задания: %w", err)
	}

	// Удаление выходного FileRecord каскадно удаляет задание (FK ON DELETE CASCADE)
	var outputPath string
	if outputID != nil {
		err = r.db.QueryRow(ctx,
			`DELETE FROM files WHERE file_id = $1 RETURNING storage_path`, *outputID,
		).Scan(&outputPath)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("ошибка удаления выходного файла: %w", err)
		}
		return outputPath, nil
	}

	// Задание без выхода (pending/failed) — удаляем саму строку
	tag, err := r.db.Exec(ctx, `DELETE FROM conversion_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return "", fmt.Errorf("ошибка удаления задания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return "", nil
}

func (r *jobRepo) DeleteAll(ctx context.Context) ([]string, error) {
	// Удаляем выходные файлы завершённых заданий; их задания уходят каскадом
	rows, err := r.db.Query(ctx, `
		DELETE FROM files
		WHERE file_id IN (SELECT output_file_id FROM conversion_jobs WHERE output_file_id IS NOT NULL)
		RETURNING storage_path`)
	if err != nil {
		return nil, fmt.Errorf("ошибка удаления выходных файлов: %w", err)
	}
	paths, err := scanPaths(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Остальные (без выхода, терминальные) удаляем напрямую
	_, err = r.db.Exec(ctx, `DELETE FROM conversion_jobs WHERE status IN ('complete', 'failed')`)
	if err != nil {
		return nil, fmt.Errorf("ошибка удаления заданий: %w", err)
	}
	return paths, nil
}

// scanJob сканирует одну строку в ConversionJob.
func scanJob(row pgx.Row) (*model.ConversionJob, error) {
	j := &model.ConversionJob{}
	var params []byte
	err := row.Scan(
		&j.JobID, &j.SourceFileID, &j.OutputFileID, &j.Status, &j.Progress,
		&j.InputFormat, &j.OutputFormat, &params, &j.ErrorCode, &j.ErrorMessage,
		&j.Source.Filename, &j.Source.MediaType, &j.Source.Extension, &j.Source.SizeBytes,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &j.Params); err != nil {
		return nil, fmt.Errorf("ошибка десериализации params: %w", err)
	}
	return j, nil
}

// prefixJobColumns добавляет алиас таблицы к списку столбцов заданий.
func prefixJobColumns(alias string) string {
	return prefixList(jobColumns, alias)
}
