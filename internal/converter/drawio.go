package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// Форматы экспорта diagrams.net. Конвертация в drawio не поддерживается:
// CLI умеет только экспорт.
var drawioExportFormats = []string{"png", "jpeg", "svg", "pdf"}

// DrawioConverter — экспорт диаграмм drawio через CLI diagrams.net.
// Регистрируется только если бинарник найден при старте.
type DrawioConverter struct {
	binPath string
}

// NewDrawioConverter создаёт конвертер. binPath — путь к CLI drawio
// (TM_DRAWIO_PATH); при пустом значении бинарник ищется в PATH.
// Возвращает ошибку, если drawio не найден.
func NewDrawioConverter(binPath string) (*DrawioConverter, error) {
	if binPath == "" {
		binPath = "drawio"
	}
	resolved, err := exec.LookPath(binPath)
	if err != nil {
		return nil, fmt.Errorf("drawio не найден (%s): %w", binPath, err)
	}
	return &DrawioConverter{binPath: resolved}, nil
}

func (c *DrawioConverter) ID() string {
	return "drawio"
}

// BinPath возвращает разрешённый путь к бинарнику drawio.
func (c *DrawioConverter) BinPath() string {
	return c.binPath
}

func (c *DrawioConverter) Pairs() []FormatPair {
	pairs := make([]FormatPair, 0, len(drawioExportFormats))
	for _, out := range drawioExportFormats {
		pairs = append(pairs, FormatPair{In: "drawio", Out: out})
	}
	return pairs
}

func (c *DrawioConverter) Convert(ctx context.Context, req *Request) (*Result, error) {
	// Экспортируется первая страница диаграммы. Формат выводится
	// CLI из расширения выходного файла.
	args := []string{"-x", req.InputPath, "-p", "0", "-o", req.OutputPath}
	if req.OutputFormat == "png" {
		args = append(args, "--transparent")
	}

	cmd := exec.CommandContext(ctx, c.binPath, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	log := tail(output.Bytes(), stderrTailLimit)
	if err != nil {
		return nil, classifyDrawioError(ctx, err, log)
	}
	return &Result{Log: log}, nil
}

// classifyDrawioError переводит ошибку запуска drawio в код ошибки задания.
func classifyDrawioError(ctx context.Context, err error, log string) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(model.ErrCodeTimeout, "drawio превысил лимит времени")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return NewError(model.ErrCodeTimeout, "конвертация прервана")
	}

	lower := strings.ToLower(log)
	if strings.Contains(lower, "invalid") || strings.Contains(lower, "parse") ||
		strings.Contains(lower, "malformed") {
		return WrapError(model.ErrCodeCorruptInput, "drawio не смог прочитать диаграмму", err)
	}

	return &Error{
		Code:    model.ErrCodeConverterCrashed,
		Message: fmt.Sprintf("drawio завершился с ошибкой: %s", lastLine(log)),
		Err:     err,
	}
}
