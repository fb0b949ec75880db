package database

import "testing"

func TestPoolSize(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    int32
	}{
		{"один воркер — минимум пула", 1, 8},
		{"четыре воркера — резерв добирает до минимума", 4, 8},
		{"восемь воркеров", 8, 12},
		{"шестнадцать воркеров", 16, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PoolSize(tt.workers); got != tt.want {
				t.Errorf("PoolSize(%d) = %d, ожидалось %d", tt.workers, got, tt.want)
			}
		})
	}
}
