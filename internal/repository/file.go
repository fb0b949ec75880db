package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `file_id, kind, storage_path, original_filename, media_type,
	extension, size_bytes, checksum, created_at`

// FileRepository — интерфейс CRUD для таблицы files.
type FileRepository interface {
	// Create вставляет новую запись файла.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByID возвращает файл по UUID или ErrNotFound.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
	// List возвращает файлы указанного вида, новые первыми.
	// kind == "" — без фильтра.
	List(ctx context.Context, kind model.FileKind) ([]*model.FileRecord, error)
	// ListUnconverted возвращает загрузки, у которых нет завершённой конвертации.
	ListUnconverted(ctx context.Context) ([]*model.FileRecord, error)
	// Delete удаляет запись и возвращает её storage_path для освобождения
	// File Store. Возвращает ErrNotFound, если записи нет, и ErrConflict,
	// если файл — исходник активного (pending/running) задания.
	Delete(ctx context.Context, fileID string) (string, error)
	// DeleteByIDs удаляет записи по набору id. Возвращает storage_path удалённых.
	DeleteByIDs(ctx context.Context, fileIDs []string) ([]string, error)
	// DeleteOlderThan удаляет записи старше cutoff (TTL-очистка).
	// Возвращает storage_path удалённых для освобождения File Store.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	// CountActiveJobsForSource возвращает количество активных заданий,
	// ссылающихся на файл как на исходник.
	CountActiveJobsForSource(ctx context.Context, fileID string) (int, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (file_id, kind, storage_path, original_filename, media_type,
			extension, size_bytes, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		f.FileID, f.Kind, f.StoragePath, f.OriginalFilename, f.MediaType,
		f.Extension, f.SizeBytes, f.Checksum,
	).Scan(&f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким ID или путём уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE file_id = $1`, fileColumns)

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, fileID).Scan(
		&f.FileID, &f.Kind, &f.StoragePath, &f.OriginalFilename, &f.MediaType,
		&f.Extension, &f.SizeBytes, &f.Checksum, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) List(ctx context.Context, kind model.FileKind) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files`, fileColumns)
	var args []any
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

// ListUnconverted возвращает загрузки без успешно завершённой конвертации.
func (r *fileRepo) ListUnconverted(ctx context.Context) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM files f
		WHERE f.kind = 'upload'
		  AND NOT EXISTS (
			SELECT 1 FROM conversion_jobs j
			WHERE j.source_file_id = f.file_id AND j.status = 'complete'
		  )
		ORDER BY f.created_at DESC`, prefixColumns("f"))

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения неконвертированных файлов: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

func (r *fileRepo) Delete(ctx context.Context, fileID string) (string, error) {
	// Исходник активного задания удалять нельзя — движок читает его байты.
	active, err := r.CountActiveJobsForSource(ctx, fileID)
	if err != nil {
		return "", err
	}
	if active > 0 {
		return "", fmt.Errorf("%w: файл используется активным заданием конвертации", ErrConflict)
	}

	var path string
	err = r.db.QueryRow(ctx,
		`DELETE FROM files WHERE file_id = $1 RETURNING storage_path`, fileID,
	).Scan(&path)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка удаления файла: %w", err)
	}
	return path, nil
}

func (r *fileRepo) DeleteByIDs(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}

	query := `DELETE FROM files WHERE file_id = ANY($1) RETURNING storage_path`
	rows, err := r.db.Query(ctx, query, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка массового удаления файлов: %w", err)
	}
	defer rows.Close()

	return scanPaths(rows)
}

func (r *fileRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	// Исходники активных заданий под TTL не попадают: движок ещё читает их байты
	query := `
		DELETE FROM files f
		WHERE f.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM conversion_jobs j
			WHERE j.source_file_id = f.file_id AND j.status IN ('pending', 'running')
		  )
		RETURNING f.storage_path`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("ошибка TTL-удаления файлов: %w", err)
	}
	defer rows.Close()

	return scanPaths(rows)
}

func (r *fileRepo) CountActiveJobsForSource(ctx context.Context, fileID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM conversion_jobs
		WHERE source_file_id = $1 AND status IN ('pending', 'running')`

	var n int
	if err := r.db.QueryRow(ctx, query, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта активных заданий: %w", err)
	}
	return n, nil
}

// scanFiles сканирует строки результата в список FileRecord.
func scanFiles(rows pgx.Rows) ([]*model.FileRecord, error) {
	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(
			&f.FileID, &f.Kind, &f.StoragePath, &f.OriginalFilename, &f.MediaType,
			&f.Extension, &f.SizeBytes, &f.Checksum, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// scanPaths сканирует storage_path из RETURNING-результата.
func scanPaths(rows pgx.Rows) ([]string, error) {
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования storage_path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// prefixColumns добавляет алиас таблицы к списку столбцов файлов.
func prefixColumns(alias string) string {
	return prefixList(fileColumns, alias)
}

// prefixList добавляет алиас таблицы к каждому столбцу списка.
func prefixList(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
