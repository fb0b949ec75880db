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

// Форматы, поддерживаемые через ffmpeg.
var (
	ffmpegAudioFormats = []string{"mp3", "wav", "aac", "flac", "ogg", "m4a", "opus"}
	ffmpegVideoFormats = []string{"mp4", "avi", "mov", "mkv", "webm", "mpg", "m4v"}
)

// stderrTailLimit — сколько байт stderr ffmpeg сохраняется в Result.Log.
const stderrTailLimit = 4096

// FFmpegConverter — конвертер аудио и видео через внешний бинарник ffmpeg.
// Регистрируется только если бинарник найден при старте.
type FFmpegConverter struct {
	binPath string
}

// NewFFmpegConverter создаёт конвертер. binPath — путь к ffmpeg
// (TM_FFMPEG_PATH); при пустом значении бинарник ищется в PATH.
// Возвращает ошибку, если ffmpeg не найден.
func NewFFmpegConverter(binPath string) (*FFmpegConverter, error) {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(binPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg не найден (%s): %w", binPath, err)
	}
	return &FFmpegConverter{binPath: resolved}, nil
}

func (c *FFmpegConverter) ID() string {
	return "ffmpeg"
}

// BinPath возвращает разрешённый путь к бинарнику ffmpeg.
func (c *FFmpegConverter) BinPath() string {
	return c.binPath
}

// Pairs: аудио↔аудио, видео↔видео, видео→аудио (извлечение дорожки),
// видео→gif. Аудио→видео не поддерживается.
func (c *FFmpegConverter) Pairs() []FormatPair {
	var pairs []FormatPair
	for _, in := range ffmpegAudioFormats {
		for _, out := range ffmpegAudioFormats {
			if in != out {
				pairs = append(pairs, FormatPair{In: in, Out: out})
			}
		}
	}
	for _, in := range ffmpegVideoFormats {
		for _, out := range ffmpegVideoFormats {
			if in != out {
				pairs = append(pairs, FormatPair{In: in, Out: out})
			}
		}
		for _, out := range ffmpegAudioFormats {
			pairs = append(pairs, FormatPair{In: in, Out: out})
		}
		pairs = append(pairs, FormatPair{In: in, Out: "gif"})
	}
	return pairs
}

func (c *FFmpegConverter) Convert(ctx context.Context, req *Request) (*Result, error) {
	args := c.buildArgs(req)

	cmd := exec.CommandContext(ctx, c.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	log := tail(stderr.Bytes(), stderrTailLimit)
	if err != nil {
		return nil, classifyFFmpegError(ctx, err, log)
	}
	return &Result{Log: log}, nil
}

// buildArgs собирает аргументы ffmpeg для запроса.
func (c *FFmpegConverter) buildArgs(req *Request) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", req.InputPath,
	}

	switch {
	case req.OutputFormat == "gif":
		// Видео → gif: ограничиваем кадровую частоту и ширину
		args = append(args, "-vf", "fps=12,scale=480:-1:flags=lanczos")
	case MediaTypeFor(req.OutputFormat) == MediaAudio:
		if MediaTypeFor(req.InputFormat) == MediaVideo {
			// Извлечение аудиодорожки из видео
			args = append(args, "-vn")
		}
		args = append(args, "-b:a", audioBitrate(req.Params))
	case MediaTypeFor(req.OutputFormat) == MediaVideo:
		args = append(args, "-crf", videoCRF(req.Params))
	}

	return append(args, req.OutputPath)
}

// audioBitrate отображает параметр quality на битрейт аудио.
func audioBitrate(params map[string]string) string {
	switch params["quality"] {
	case "low":
		return "128k"
	case "medium":
		return "192k"
	default:
		return "320k"
	}
}

// videoCRF отображает параметр quality на CRF видео-кодека.
func videoCRF(params map[string]string) string {
	switch params["quality"] {
	case "low":
		return "28"
	case "medium":
		return "23"
	default:
		return "18"
	}
}

// classifyFFmpegError переводит ошибку запуска ffmpeg в код ошибки задания.
func classifyFFmpegError(ctx context.Context, err error, log string) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(model.ErrCodeTimeout, "ffmpeg превысил лимит времени")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return NewError(model.ErrCodeTimeout, "конвертация прервана")
	}

	lower := strings.ToLower(log)
	if strings.Contains(lower, "invalid data found") ||
		strings.Contains(lower, "moov atom not found") ||
		strings.Contains(lower, "could not find codec parameters") {
		return WrapError(model.ErrCodeCorruptInput, "ffmpeg не смог прочитать исходный файл", err)
	}

	return &Error{
		Code:    model.ErrCodeConverterCrashed,
		Message: fmt.Sprintf("ffmpeg завершился с ошибкой: %s", lastLine(log)),
		Err:     err,
	}
}

// tail возвращает последние limit байт вывода как строку.
func tail(b []byte, limit int) string {
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}

// lastLine возвращает последнюю непустую строку вывода.
func lastLine(log string) string {
	lines := strings.Split(strings.TrimSpace(log), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "нет вывода"
}
