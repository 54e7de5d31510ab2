package core

import (
	"errors"
	"math"
	"testing"
)

func sizedRequest(cell, numCells, feature, numFeatures int64) ConversionRequest {
	req := newRequest("file.h5ad", cell, feature)
	req.NumCells = numCells
	req.NumFeatures = numFeatures
	return req
}

func TestCheckIndexRanges(t *testing.T) {
	tests := []struct {
		name       string
		requests   []ConversionRequest
		wantKind   string
		wantFirst  int
		wantSecond int
	}{
		{
			name:     "empty batch",
			requests: nil,
		},
		{
			name: "adjacent ranges do not overlap",
			requests: []ConversionRequest{
				sizedRequest(0, 100, 0, 10),
				sizedRequest(100, 150, 10, 10),
				sizedRequest(250, 150, 20, 10),
			},
		},
		{
			name: "unordered disjoint ranges",
			requests: []ConversionRequest{
				sizedRequest(250, 150, 20, 10),
				sizedRequest(0, 100, 0, 10),
				sizedRequest(100, 150, 10, 10),
			},
		},
		{
			name: "unknown sizes are skipped",
			requests: []ConversionRequest{
				sizedRequest(0, 0, 0, 0),
				sizedRequest(0, 0, 0, 0),
			},
		},
		{
			name: "cell overlap",
			requests: []ConversionRequest{
				sizedRequest(0, 100, 0, 10),
				sizedRequest(250, 10, 20, 10),
				sizedRequest(99, 10, 10, 10),
			},
			wantKind:   "cell",
			wantFirst:  0,
			wantSecond: 2,
		},
		{
			name: "overflowing range still overlaps",
			requests: []ConversionRequest{
				sizedRequest(math.MaxInt64-5, 100, 0, 10),
				sizedRequest(math.MaxInt64-3, 1, 10, 10),
			},
			wantKind:   "cell",
			wantFirst:  0,
			wantSecond: 1,
		},
		{
			name: "feature overlap",
			requests: []ConversionRequest{
				sizedRequest(0, 100, 5, 10),
				sizedRequest(100, 100, 0, 10),
			},
			wantKind:   "feature",
			wantFirst:  0,
			wantSecond: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIndexRanges(tt.requests)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("CheckIndexRanges() error = %v", err)
				}
				return
			}

			var overlap *OverlapError
			if !errors.As(err, &overlap) {
				t.Fatalf("CheckIndexRanges() error = %v, want *OverlapError", err)
			}
			if overlap.Kind != tt.wantKind || overlap.First != tt.wantFirst || overlap.Second != tt.wantSecond {
				t.Errorf("CheckIndexRanges() = %+v, want %s overlap of %d and %d",
					overlap, tt.wantKind, tt.wantFirst, tt.wantSecond)
			}
		})
	}
}

func TestCheckIndexRanges_DoesNotReorderInput(t *testing.T) {
	requests := []ConversionRequest{
		sizedRequest(500, 10, 0, 0),
		sizedRequest(0, 10, 0, 0),
	}
	if err := CheckIndexRanges(requests); err != nil {
		t.Fatal(err)
	}
	if *requests[0].CellIndexStart != 500 {
		t.Error("CheckIndexRanges() must not reorder the caller's requests")
	}
}
