// Пакет filestore — операции с физическими файлами на диске.
// Байты загрузок и результатов конвертации лежат в поддиректориях
// uploads/ и outputs/, метаданные — в PostgreSQL. Запись streaming,
// с подсчётом SHA-256 на лету.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Поддиректории dataDir.
const (
	// DirUploads — загруженные пользователем исходники.
	DirUploads = "uploads"
	// DirOutputs — результаты конвертации.
	DirOutputs = "outputs"
	// dirTmp — незавершённые записи до атомарного rename.
	dirTmp = "tmp"
)

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (TM_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoragePath — относительный путь файла в dataDir
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт новый FileStore. Создаёт dataDir и поддиректории,
// если они не существуют.
func New(dataDir string) (*FileStore, error) {
	for _, dir := range []string{dataDir,
		filepath.Join(dataDir, DirUploads),
		filepath.Join(dataDir, DirOutputs),
		filepath.Join(dataDir, dirTmp),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dir, err)
		}
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Save записывает данные из reader на диск с подсчётом SHA-256 на лету.
// dir — DirUploads или DirOutputs, имя файла — {fileID}.{ext}.
// Оригинальное имя в путь не попадает: оно хранится только в БД.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(dir, fileID, ext string, reader io.Reader) (*SaveResult, error) {
	storageName := fileID
	if ext != "" {
		storageName = fileID + "." + ext
	}
	storagePath := filepath.Join(dir, storageName)
	fullPath := filepath.Join(fs.dataDir, storagePath)
	tmpPath := filepath.Join(fs.dataDir, dirTmp, storageName)

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storagePath,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл для чтения и возвращает *os.File.
// storagePath — относительный путь файла в dataDir.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(storagePath string) (*os.File, error) {
	fullPath := filepath.Join(fs.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storagePath string) string {
	return filepath.Join(fs.dataDir, storagePath)
}

// Delete удаляет файл с диска.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) Delete(storagePath string) error {
	fullPath := filepath.Join(fs.dataDir, storagePath)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(storagePath string) bool {
	fullPath := filepath.Join(fs.dataDir, storagePath)
	_, err := os.Stat(fullPath)
	return err == nil
}

// Size возвращает размер файла на диске.
func (fs *FileStore) Size(storagePath string) (int64, error) {
	fullPath := filepath.Join(fs.dataDir, storagePath)
	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// ComputeChecksum вычисляет SHA-256 хэш существующего файла.
func (fs *FileStore) ComputeChecksum(storagePath string) (string, error) {
	fullPath := filepath.Join(fs.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SweepTmp удаляет из tmp/ файлы старше maxAge — остатки записей,
// прерванных падением процесса до атомарного rename.
// Возвращает количество удалённых файлов.
func (fs *FileStore) SweepTmp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dataDir, dirTmp))
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории tmp: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.dataDir, dirTmp, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
