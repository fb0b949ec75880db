package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestNew_CreatesDirectories проверяет создание директории данных и поддиректорий.
func TestNew_CreatesDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if fs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, fs.DataDir())
	}

	for _, sub := range []string{DirUploads, DirOutputs, dirTmp} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil {
			t.Fatalf("поддиректория %s не создана: %v", sub, err)
		}
		if !info.IsDir() {
			t.Fatalf("путь %s не является директорией", sub)
		}
	}
}

// TestSave проверяет сохранение файла с подсчётом SHA-256.
func TestSave(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("Hello, World! Тестовые данные для проверки.")
	fileID := uuid.New().String()

	result, err := fs.Save(DirUploads, fileID, "png", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	// Проверяем размер
	if result.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), result.Size)
	}

	// Проверяем checksum
	expectedHash := sha256.Sum256(content)
	expectedChecksum := hex.EncodeToString(expectedHash[:])
	if result.Checksum != expectedChecksum {
		t.Errorf("checksum: ожидалось %s, получено %s", expectedChecksum, result.Checksum)
	}

	// Проверяем путь: {dir}/{fileID}.{ext}
	expected := filepath.Join(DirUploads, fileID+".png")
	if result.StoragePath != expected {
		t.Errorf("путь: ожидалось %s, получено %s", expected, result.StoragePath)
	}

	// Проверяем, что файл существует на диске
	if _, err := os.Stat(result.FullPath); os.IsNotExist(err) {
		t.Error("файл не найден на диске")
	}

	// Проверяем содержимое
	data, err := os.ReadFile(result.FullPath)
	if err != nil {
		t.Fatalf("ошибка чтения файла: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает")
	}
}

// TestSave_NoExtension проверяет сохранение файла без расширения.
func TestSave_NoExtension(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	fileID := uuid.New().String()
	result, err := fs.Save(DirUploads, fileID, "", bytes.NewReader([]byte("data")))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if result.StoragePath != filepath.Join(DirUploads, fileID) {
		t.Errorf("путь без расширения: получено %s", result.StoragePath)
	}
	if result.Size != 4 {
		t.Errorf("размер: ожидалось 4, получено %d", result.Size)
	}
}

// TestSave_NoTmpFile проверяет, что temp файл удалён после сохранения.
func TestSave_NoTmpFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	fileID := uuid.New().String()
	if _, err := fs.Save(DirOutputs, fileID, "txt", bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	tmpPath := filepath.Join(dir, dirTmp, fileID+".txt")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать")
	}
}

// TestSave_EmptyFile проверяет сохранение пустого файла.
func TestSave_EmptyFile(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	result, err := fs.Save(DirUploads, uuid.New().String(), "txt", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if result.Size != 0 {
		t.Errorf("ожидался размер 0, получено %d", result.Size)
	}
}

// TestOpen проверяет чтение файла.
func TestOpen(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("read test data")
	result, err := fs.Save(DirUploads, uuid.New().String(), "txt", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	f, err := fs.Open(result.StoragePath)
	if err != nil {
		t.Fatalf("ошибка открытия для чтения: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	if !bytes.Equal(data, content) {
		t.Error("прочитанные данные не совпадают с записанными")
	}
}

// TestOpen_NotFound проверяет ошибку при чтении несуществующего файла.
func TestOpen_NotFound(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if _, err := fs.Open("uploads/nonexistent.txt"); err == nil {
		t.Error("ожидалась ошибка для несуществующего файла")
	}
}

// TestDelete проверяет удаление файла.
func TestDelete(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	result, err := fs.Save(DirOutputs, uuid.New().String(), "txt", bytes.NewReader([]byte("delete me")))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if err := fs.Delete(result.StoragePath); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}

	if fs.Exists(result.StoragePath) {
		t.Error("файл должен быть удалён")
	}
}

// TestDelete_NotFound проверяет, что удаление несуществующего файла не ошибка.
func TestDelete_NotFound(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if err := fs.Delete("uploads/nonexistent.txt"); err != nil {
		t.Errorf("удаление несуществующего файла не должно быть ошибкой: %v", err)
	}
}

// TestExists проверяет определение существования файла.
func TestExists(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if fs.Exists("uploads/no-file.txt") {
		t.Error("файл не должен существовать")
	}

	result, err := fs.Save(DirUploads, uuid.New().String(), "txt", bytes.NewReader([]byte("exists")))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if !fs.Exists(result.StoragePath) {
		t.Error("файл должен существовать")
	}
}

// TestSize проверяет получение размера файла.
func TestSize(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("size check data - 123")
	result, err := fs.Save(DirUploads, uuid.New().String(), "bin", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	size, err := fs.Size(result.StoragePath)
	if err != nil {
		t.Fatalf("ошибка получения размера: %v", err)
	}

	if size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), size)
	}
}

// TestComputeChecksum проверяет вычисление SHA-256 существующего файла.
func TestComputeChecksum(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("checksum verification data")
	result, err := fs.Save(DirOutputs, uuid.New().String(), "bin", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	checksum, err := fs.ComputeChecksum(result.StoragePath)
	if err != nil {
		t.Fatalf("ошибка вычисления checksum: %v", err)
	}

	// Checksum при сохранении и повторном вычислении должны совпадать
	if checksum != result.Checksum {
		t.Errorf("checksum не совпадает: save=%s, compute=%s", result.Checksum, checksum)
	}
}

// TestSweepTmp проверяет уборку остатков прерванных записей в tmp/.
func TestSweepTmp(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	tmpDir := filepath.Join(fs.DataDir(), "tmp")

	// Старый файл — остаток прерванной записи
	stale := filepath.Join(tmpDir, "stale.bin")
	if err := os.WriteFile(stale, []byte("partial"), 0o640); err != nil {
		t.Fatalf("ошибка создания файла: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("ошибка изменения времени файла: %v", err)
	}

	// Свежий файл — возможно, запись ещё идёт
	fresh := filepath.Join(tmpDir, "fresh.bin")
	if err := os.WriteFile(fresh, []byte("in progress"), 0o640); err != nil {
		t.Fatalf("ошибка создания файла: %v", err)
	}

	removed, err := fs.SweepTmp(time.Hour)
	if err != nil {
		t.Fatalf("ошибка уборки tmp: %v", err)
	}
	if removed != 1 {
		t.Errorf("удалено %d файлов, ожидался 1", removed)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("старый временный файл должен быть удалён")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("свежий временный файл должен остаться")
	}
}

// TestFullPath проверяет формирование полного пути.
func TestFullPath(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	fullPath := fs.FullPath("uploads/test.txt")
	expected := filepath.Join(fs.DataDir(), "uploads", "test.txt")

	if fullPath != expected {
		t.Errorf("ожидалось %s, получено %s", expected, fullPath)
	}
}
