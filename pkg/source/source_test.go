package source

import "testing"

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{total: UnknownTotal, size: 100, want: 1},
		{total: 0, size: 100, want: 1},
		{total: 1, size: 100, want: 1},
		{total: 100, size: 100, want: 1},
		{total: 101, size: 100, want: 2},
		{total: 237, size: 100, want: 3},
		{total: 10, size: 0, want: 1},
	}

	for _, tt := range tests {
		if got := TotalPages(tt.total, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}
