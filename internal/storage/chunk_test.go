package storage

import (
	"reflect"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		ids  []int64
		size int
		want [][]int64
	}{
		{"empty", nil, 10, nil},
		{"single chunk", []int64{1, 2}, 10, [][]int64{{1, 2}}},
		{"exact multiple", []int64{1, 2, 3, 4}, 2, [][]int64{{1, 2}, {3, 4}}},
		{"remainder", []int64{1, 2, 3}, 2, [][]int64{{1, 2}, {3}}},
		{"size smaller than one falls back to single chunk", []int64{1, 2, 3}, 0, [][]int64{{1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Chunk(tt.ids, tt.size); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk(%v, %d) = %v, want %v", tt.ids, tt.size, got, tt.want)
			}
		})
	}
}
