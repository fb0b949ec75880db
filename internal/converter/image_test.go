package converter

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// writeTestPNG создаёт PNG 4x4 с полупрозрачными пикселями.
func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 128})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("создание тестового PNG: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("кодирование тестового PNG: %v", err)
	}
}

// TestImageConverter_Pairs проверяет декларацию пар форматов.
func TestImageConverter_Pairs(t *testing.T) {
	c := NewImageConverter()

	pairs := c.Pairs()
	// 5 форматов, все упорядоченные пары без диагонали
	if len(pairs) != 20 {
		t.Errorf("Pairs() вернул %d пар, хотели 20", len(pairs))
	}

	found := false
	for _, p := range pairs {
		if p.In == "png" && p.Out == "jpeg" {
			found = true
		}
		if p.In == p.Out {
			t.Errorf("пара с одинаковыми форматами: %v", p)
		}
	}
	if !found {
		t.Error("пара png → jpeg не объявлена")
	}
}

// TestImageConverter_PNGToJPEG проверяет конвертацию с сведением альфа-канала.
func TestImageConverter_PNGToJPEG(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.png")
	output := filepath.Join(dir, "out.jpeg")
	writeTestPNG(t, input)

	c := NewImageConverter()
	_, err := c.Convert(context.Background(), &Request{
		InputPath:    input,
		OutputPath:   output,
		InputFormat:  "png",
		OutputFormat: "jpeg",
		Params:       map[string]string{"quality": "high"},
	})
	if err != nil {
		t.Fatalf("Convert() ошибка: %v", err)
	}

	// Результат — валидный JPEG того же размера
	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("выходной файл не создан: %v", err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("выход не является валидным JPEG: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Errorf("размер изображения %v, хотели 4x4", img.Bounds())
	}
}

// TestImageConverter_AllOutputs проверяет кодирование во все форматы.
func TestImageConverter_AllOutputs(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.png")
	writeTestPNG(t, input)

	c := NewImageConverter()
	for _, out := range []string{"jpeg", "gif", "bmp", "tiff"} {
		output := filepath.Join(dir, "out."+out)
		_, err := c.Convert(context.Background(), &Request{
			InputPath:    input,
			OutputPath:   output,
			InputFormat:  "png",
			OutputFormat: out,
		})
		if err != nil {
			t.Errorf("Convert(png → %s) ошибка: %v", out, err)
			continue
		}
		info, err := os.Stat(output)
		if err != nil || info.Size() == 0 {
			t.Errorf("Convert(png → %s): выходной файл пуст или отсутствует", out)
		}
	}
}

// TestImageConverter_CorruptInput проверяет классификацию битого файла.
func TestImageConverter_CorruptInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.png")
	if err := os.WriteFile(input, []byte("это не PNG"), 0o600); err != nil {
		t.Fatalf("запись тестового файла: %v", err)
	}

	c := NewImageConverter()
	_, err := c.Convert(context.Background(), &Request{
		InputPath:    input,
		OutputPath:   filepath.Join(dir, "out.jpeg"),
		InputFormat:  "png",
		OutputFormat: "jpeg",
	})
	if err == nil {
		t.Fatal("ожидалась ошибка для битого файла")
	}
	var convErr *Error
	if !errors.As(err, &convErr) {
		t.Fatalf("ожидался *Error, получен: %T", err)
	}
	if convErr.Code != model.ErrCodeCorruptInput {
		t.Errorf("Code = %q, хотели %q", convErr.Code, model.ErrCodeCorruptInput)
	}
}

// TestImageConverter_MismatchedContent: JPEG-содержимое под видом PNG.
func TestImageConverter_MismatchedContent(t *testing.T) {
	dir := t.TempDir()

	// Создаём настоящий JPEG
	jpegPath := filepath.Join(dir, "real.jpeg")
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	f, err := os.Create(jpegPath)
	if err != nil {
		t.Fatalf("создание JPEG: %v", err)
	}
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("кодирование JPEG: %v", err)
	}
	f.Close()

	// Конвертируем как PNG — декодер PNG должен отказать
	c := NewImageConverter()
	_, err = c.Convert(context.Background(), &Request{
		InputPath:    jpegPath,
		OutputPath:   filepath.Join(dir, "out.gif"),
		InputFormat:  "png",
		OutputFormat: "gif",
	})
	var convErr *Error
	if !errors.As(err, &convErr) || convErr.Code != model.ErrCodeCorruptInput {
		t.Errorf("ожидался corrupt_input, получено: %v", err)
	}
}

// TestJPEGQuality проверяет отображение параметра quality.
func TestJPEGQuality(t *testing.T) {
	tests := []struct {
		params   map[string]string
		expected int
	}{
		{map[string]string{"quality": "low"}, 60},
		{map[string]string{"quality": "medium"}, 85},
		{map[string]string{"quality": "high"}, 95},
		{map[string]string{}, 95},
		{nil, 95},
	}

	for _, tt := range tests {
		if got := jpegQuality(tt.params); got != tt.expected {
			t.Errorf("jpegQuality(%v) = %d, хотели %d", tt.params, got, tt.expected)
		}
	}
}
