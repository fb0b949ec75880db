package converter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// imageConvFormats — форматы, поддерживаемые встроенным конвертером изображений.
var imageConvFormats = []string{"png", "jpeg", "gif", "bmp", "tiff"}

// ImageConverter — встроенный конвертер растровых изображений.
// Работает без внешних инструментов: декодирование и кодирование
// средствами image/* и golang.org/x/image.
type ImageConverter struct{}

// NewImageConverter создаёт конвертер изображений.
func NewImageConverter() *ImageConverter {
	return &ImageConverter{}
}

func (c *ImageConverter) ID() string {
	return "image"
}

// Pairs возвращает все упорядоченные пары поддерживаемых форматов.
func (c *ImageConverter) Pairs() []FormatPair {
	var pairs []FormatPair
	for _, in := range imageConvFormats {
		for _, out := range imageConvFormats {
			if in != out {
				pairs = append(pairs, FormatPair{In: in, Out: out})
			}
		}
	}
	return pairs
}

func (c *ImageConverter) Convert(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(model.ErrCodeTimeout, "конвертация прервана", err)
	}

	src, err := os.Open(req.InputPath)
	if err != nil {
		return nil, WrapError(model.ErrCodeStorageFailure, "не удалось открыть исходный файл", err)
	}
	defer src.Close()

	img, err := decodeImage(req.InputFormat, src)
	if err != nil {
		return nil, WrapError(model.ErrCodeCorruptInput,
			fmt.Sprintf("не удалось декодировать %s", req.InputFormat), err)
	}

	dst, err := os.Create(req.OutputPath)
	if err != nil {
		return nil, WrapError(model.ErrCodeStorageFailure, "не удалось создать выходной файл", err)
	}
	defer dst.Close()

	if err := encodeImage(req.OutputFormat, dst, img, req.Params); err != nil {
		return nil, WrapError(model.ErrCodeConverterCrashed,
			fmt.Sprintf("не удалось закодировать %s", req.OutputFormat), err)
	}

	if err := dst.Sync(); err != nil {
		return nil, WrapError(model.ErrCodeStorageFailure, "ошибка fsync выходного файла", err)
	}
	return &Result{}, nil
}

// decodeImage декодирует изображение декодером заявленного формата.
// Содержимое, не соответствующее формату, даёт ошибку декодера.
func decodeImage(format string, src *os.File) (image.Image, error) {
	switch format {
	case "png":
		return png.Decode(src)
	case "jpeg":
		return jpeg.Decode(src)
	case "gif":
		return gif.Decode(src)
	case "bmp":
		return bmp.Decode(src)
	case "tiff":
		return tiff.Decode(src)
	default:
		return nil, fmt.Errorf("неизвестный формат изображения: %s", format)
	}
}

func encodeImage(format string, dst *os.File, img image.Image, params map[string]string) error {
	switch format {
	case "png":
		return png.Encode(dst, img)
	case "jpeg":
		// JPEG не поддерживает альфа-канал: прозрачность
		// сводится на белый фон.
		return jpeg.Encode(dst, flattenAlpha(img), &jpeg.Options{Quality: jpegQuality(params)})
	case "gif":
		return gif.Encode(dst, img, nil)
	case "bmp":
		return bmp.Encode(dst, img)
	case "tiff":
		return tiff.Encode(dst, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("неизвестный формат изображения: %s", format)
	}
}

// jpegQuality отображает параметр quality на значение кодека.
func jpegQuality(params map[string]string) int {
	switch params["quality"] {
	case "low":
		return 60
	case "medium":
		return 85
	default: // high и отсутствие параметра
		return 95
	}
}

// flattenAlpha накладывает изображение на белый фон.
// Для изображений без альфа-канала возвращает оригинал.
func flattenAlpha(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)
	return flat
}
