// handler.go — общие типы и хелперы HTTP-обработчиков API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// fileResponse — представление файла в API.
type fileResponse struct {
	FileID    string    `json:"file_id"`
	Kind      string    `json:"kind"`
	Filename  string    `json:"filename"`
	MediaType string    `json:"media_type"`
	Extension string    `json:"extension"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	// CompatibleFormats — доступные выходные форматы; заполняется
	// в ответе на загрузку и в списках загрузок.
	CompatibleFormats []string `json:"compatible_formats,omitempty"`
}

// sourceResponse — снапшот исходника в задании.
type sourceResponse struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Extension string `json:"extension"`
	SizeBytes int64  `json:"size_bytes"`
}

// jobResponse — представление задания конвертации в API.
type jobResponse struct {
	JobID        string            `json:"job_id"`
	SourceFileID *string           `json:"source_file_id"`
	OutputFileID *string           `json:"output_file_id"`
	Status       string            `json:"status"`
	Progress     float64           `json:"progress"`
	InputFormat  string            `json:"input_format"`
	OutputFormat string            `json:"output_format"`
	Params       map[string]string `json:"params,omitempty"`
	ErrorCode    *string           `json:"error_code,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Source       sourceResponse    `json:"source"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
}

// conversionResponse — завершённая конвертация: задание + выходной файл.
type conversionResponse struct {
	jobResponse
	Output *fileResponse `json:"output,omitempty"`
}

func fileToAPI(f *model.FileRecord) *fileResponse {
	return &fileResponse{
		FileID:    f.FileID,
		Kind:      string(f.Kind),
		Filename:  f.OriginalFilename,
		MediaType: f.MediaType,
		Extension: f.Extension,
		SizeBytes: f.SizeBytes,
		Checksum:  f.Checksum,
		CreatedAt: f.CreatedAt,
	}
}

func jobToAPI(j *model.ConversionJob) jobResponse {
	resp := jobResponse{
		JobID:        j.JobID,
		SourceFileID: j.SourceFileID,
		OutputFileID: j.OutputFileID,
		Status:       string(j.Status),
		Progress:     j.Progress,
		InputFormat:  j.InputFormat,
		OutputFormat: j.OutputFormat,
		Params:       j.Params,
		ErrorMessage: j.ErrorMessage,
		Source: sourceResponse{
			Filename:  j.Source.Filename,
			MediaType: j.Source.MediaType,
			Extension: j.Source.Extension,
			SizeBytes: j.Source.SizeBytes,
		},
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
	if j.ErrorCode != nil {
		code := string(*j.ErrorCode)
		resp.ErrorCode = &code
	}
	return resp
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
