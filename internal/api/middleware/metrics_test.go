package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"статический files", "/api/files", "/api/files"},
		{"статический batch", "/api/files/batch", "/api/files/batch"},
		{"статический complete", "/api/conversions/complete", "/api/conversions/complete"},
		{"статический settings", "/api/settings", "/api/settings"},
		{"metrics", "/metrics", "/metrics"},
		{
			"UUID файла",
			"/api/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890",
			"/api/files/{id}",
		},
		{
			"UUID задания",
			"/api/conversions/a1b2c3d4-e5f6-7890-abcd-ef1234567890",
			"/api/conversions/{id}",
		},
		{"неизвестный путь", "/api/unknown", "/api/unknown"},
		{"короткий суффикс не UUID", "/api/files/short", "/api/files/short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
			}
		})
	}
}
