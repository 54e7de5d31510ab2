package core

import (
	"cmp"
	"math"
	"slices"
)

type indexRange struct {
	request    int
	start, end int64
}

// CheckIndexRanges verifies that the cell and feature index ranges of the
// requests are pairwise disjoint. Only requests with a known start and a
// positive size take part.
func CheckIndexRanges(requests []ConversionRequest) error {
	var cells, features []indexRange
	for i, req := range requests {
		if req.CellIndexStart != nil && req.NumCells > 0 {
			start := *req.CellIndexStart
			cells = append(cells, indexRange{request: i, start: start, end: rangeEnd(start, req.NumCells)})
		}
		if req.FeatureIndexStart != nil && req.NumFeatures > 0 {
			start := *req.FeatureIndexStart
			features = append(features, indexRange{request: i, start: start, end: rangeEnd(start, req.NumFeatures)})
		}
	}
	if err := findOverlap("cell", cells); err != nil {
		return err
	}
	return findOverlap("feature", features)
}

// rangeEnd clamps at MaxInt64. Requests are checked before validation, so
// start+size may not fit.
func rangeEnd(start, size int64) int64 {
	if start > math.MaxInt64-size {
		return math.MaxInt64
	}
	return start + size
}

func findOverlap(kind string, ranges []indexRange) error {
	slices.SortFunc(ranges, func(a, b indexRange) int {
		if c := cmp.Compare(a.start, b.start); c != 0 {
			return c
		}
		return cmp.Compare(a.request, b.request)
	})
	for i := 1; i < len(ranges); i++ {
		prev, cur := ranges[i-1], ranges[i]
		if cur.start < prev.end {
			first, second := prev.request, cur.request
			if second < first {
				first, second = second, first
			}
			return &OverlapError{
				Kind:   kind,
				First:  first,
				Second: second,
				Start:  cur.start,
				End:    min(prev.end, cur.end),
			}
		}
	}
	return nil
}
