package core

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newRequest(path string, cell, feature int64) ConversionRequest {
	return ConversionRequest{
		InputBucket:       "cellarium-raw",
		FilePath:          path,
		StageDir:          "gs://cellarium-stage/ingest",
		CellIndexStart:    &cell,
		FeatureIndexStart: &feature,
	}
}

func TestEnumerate_PreservesRequests(t *testing.T) {
	template := &InvocationTemplate{Program: "convert"}
	batchID := uuid.New()

	for _, n := range []int{0, 1, 3, 25} {
		t.Run(fmt.Sprintf("%d requests", n), func(t *testing.T) {
			requests := make([]ConversionRequest, n)
			for i := range n {
				requests[i] = newRequest(fmt.Sprintf("part_%04d.h5ad", i), int64(i*1000), int64(i*10))
			}

			result := Enumerate(batchID, requests, template)

			require.Empty(t, result.Rejected)
			require.Len(t, result.Descriptors, n)
			seen := make(map[uuid.UUID]bool)
			for i, desc := range result.Descriptors {
				require.Equal(t, i, desc.Index)
				require.Equal(t, batchID, desc.BatchID)
				require.Equal(t, requests[i].FilePath, desc.FilePath)
				require.Equal(t, *requests[i].CellIndexStart, desc.CellIndexStart)
				require.Equal(t, *requests[i].FeatureIndexStart, desc.FeatureIndexStart)
				require.Same(t, template, desc.Template)
				require.False(t, seen[desc.ID], "descriptor IDs must be unique")
				seen[desc.ID] = true
			}
		})
	}
}

func TestEnumerate_ThreeDisjointRanges(t *testing.T) {
	requests := []ConversionRequest{
		newRequest("a.h5ad", 0, 0),
		newRequest("b.h5ad", 100, 0),
		newRequest("c.h5ad", 250, 0),
	}
	requests[0].NumCells = 100
	requests[1].NumCells = 150
	requests[2].NumCells = 150

	require.NoError(t, CheckIndexRanges(requests))

	result := Enumerate(uuid.New(), requests, &InvocationTemplate{Program: "convert"})
	require.Len(t, result.Descriptors, 3)
	require.Equal(t, int64(0), result.Descriptors[0].CellIndexStart)
	require.Equal(t, int64(100), result.Descriptors[1].CellIndexStart)
	require.Equal(t, int64(250), result.Descriptors[2].CellIndexStart)
}

func TestEnumerate_DoesNotDeduplicate(t *testing.T) {
	req := newRequest("same.h5ad", 0, 0)
	result := Enumerate(uuid.New(), []ConversionRequest{req, req}, nil)

	require.Len(t, result.Descriptors, 2)
	require.NotEqual(t, result.Descriptors[0].ID, result.Descriptors[1].ID)
}

func TestEnumerate_RejectsMalformedEntriesIndividually(t *testing.T) {
	missingCell := newRequest("missing-cell.h5ad", 0, 0)
	missingCell.CellIndexStart = nil

	noBucket := newRequest("no-bucket.h5ad", 10, 0)
	noBucket.InputBucket = " "

	negative := newRequest("negative.h5ad", -1, 0)

	requests := []ConversionRequest{
		newRequest("ok-0.h5ad", 0, 0),
		missingCell,
		noBucket,
		newRequest("ok-3.h5ad", 300, 0),
		negative,
	}

	result := Enumerate(uuid.New(), requests, nil)

	require.Len(t, result.Descriptors, 2)
	require.Equal(t, 0, result.Descriptors[0].Index)
	require.Equal(t, 3, result.Descriptors[1].Index)

	require.Len(t, result.Rejected, 3)
	require.Equal(t, 1, result.Rejected[0].Index)
	require.Equal(t, "cas_cell_index", result.Rejected[0].Field)
	require.Equal(t, 2, result.Rejected[1].Index)
	require.Equal(t, "gcs_input_bucket", result.Rejected[1].Field)
	require.Equal(t, 4, result.Rejected[2].Index)
	require.Contains(t, result.Rejected[2].Error(), "must not be negative")
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *ConversionRequest)
		wantField string
	}{
		{"valid", func(r *ConversionRequest) {}, ""},
		{"missing path", func(r *ConversionRequest) { r.FilePath = "" }, "df_filename"},
		{"missing stage dir", func(r *ConversionRequest) { r.StageDir = "" }, "gcs_stage_dir"},
		{"missing feature index", func(r *ConversionRequest) { r.FeatureIndexStart = nil }, "cas_feature_index"},
		{"negative feature index", func(r *ConversionRequest) { v := int64(-5); r.FeatureIndexStart = &v }, "cas_feature_index"},
		{"negative size", func(r *ConversionRequest) { r.NumCells = -1 }, "num_cells/num_features"},
		{"cell range overflows", func(r *ConversionRequest) {
			v := int64(math.MaxInt64 - 10)
			r.CellIndexStart = &v
			r.NumCells = 11
		}, "cas_cell_index"},
		{"cell range ends at max", func(r *ConversionRequest) {
			v := int64(math.MaxInt64 - 10)
			r.CellIndexStart = &v
			r.NumCells = 10
		}, ""},
		{"feature range overflows", func(r *ConversionRequest) {
			v := int64(math.MaxInt64)
			r.FeatureIndexStart = &v
			r.NumFeatures = 1
		}, "cas_feature_index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest("file.h5ad", 0, 0)
			tt.mutate(&req)

			err := ValidateRequest(7, req)
			if tt.wantField == "" {
				require.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			require.Equal(t, 7, err.Index)
			require.Equal(t, tt.wantField, err.Field)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(error(err), &cfgErr))
		})
	}
}
