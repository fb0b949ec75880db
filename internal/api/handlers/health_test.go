package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChecker struct {
	status  string
	message string
}

func (f *fakeChecker) CheckReady() (string, string) {
	return f.status, f.message
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"все ok", []string{"ok", "ok"}, "ok"},
		{"один fail", []string{"ok", "fail"}, "fail"},
		{"один degraded", []string{"ok", "degraded"}, "degraded"},
		{"fail важнее degraded", []string{"degraded", "fail"}, "fail"},
		{"пустой список", nil, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overallStatus(tt.statuses...); got != tt.want {
				t.Errorf("overallStatus(%v) = %q, ожидается %q", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestHealthReady_OK(t *testing.T) {
	dir := t.TempDir()
	h := NewHealthHandler(&fakeChecker{status: "ok"}, dir)

	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается %d", rec.Code, http.StatusOK)
	}

	var resp healthReadyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось декодировать ответ: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("итоговый статус = %q, ожидается ok", resp.Status)
	}
	if resp.Checks.FileStore.Status != "ok" {
		t.Errorf("статус filestore = %q, ожидается ok", resp.Checks.FileStore.Status)
	}
}

func TestHealthReady_PostgresDown(t *testing.T) {
	h := NewHealthHandler(&fakeChecker{status: "fail", message: "нет подключения"}, t.TempDir())

	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("статус = %d, ожидается %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthReady_FileStoreMissing(t *testing.T) {
	h := NewHealthHandler(&fakeChecker{status: "ok"}, "/nonexistent/data/dir")

	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("статус = %d, ожидается %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestInfo(t *testing.T) {
	h := NewHealthHandler(nil, t.TempDir())

	rec := httptest.NewRecorder()
	h.Info(rec, httptest.NewRequest(http.MethodGet, "/api/health/info", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается %d", rec.Code, http.StatusOK)
	}

	var resp infoResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось декодировать ответ: %v", err)
	}
	if resp.Name != "transmute" {
		t.Errorf("имя сервиса = %q, ожидается transmute", resp.Name)
	}
}
