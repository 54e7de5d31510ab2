package core

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

type EnumerationResult struct {
	Descriptors []*JobDescriptor
	Rejected    []*ConfigurationError
}

// Enumerate expands requests into one descriptor each, in submission order.
// It neither deduplicates nor checks index ranges; a malformed request is
// rejected on its own and does not stop the others.
func Enumerate(batchID uuid.UUID, requests []ConversionRequest, template *InvocationTemplate) EnumerationResult {
	result := EnumerationResult{
		Descriptors: make([]*JobDescriptor, 0, len(requests)),
	}
	for i, req := range requests {
		if err := ValidateRequest(i, req); err != nil {
			result.Rejected = append(result.Rejected, err)
			continue
		}
		result.Descriptors = append(result.Descriptors, &JobDescriptor{
			ID:                uuid.New(),
			BatchID:           batchID,
			Index:             i,
			InputBucket:       req.InputBucket,
			FilePath:          req.FilePath,
			StageDir:          req.StageDir,
			CellIndexStart:    *req.CellIndexStart,
			FeatureIndexStart: *req.FeatureIndexStart,
			Template:          template,
		})
	}
	return result
}

func ValidateRequest(index int, req ConversionRequest) *ConfigurationError {
	switch {
	case strings.TrimSpace(req.InputBucket) == "":
		return &ConfigurationError{Index: index, Field: "gcs_input_bucket", Reason: "is required"}
	case strings.TrimSpace(req.FilePath) == "":
		return &ConfigurationError{Index: index, Field: "df_filename", Reason: "is required"}
	case strings.TrimSpace(req.StageDir) == "":
		return &ConfigurationError{Index: index, Field: "gcs_stage_dir", Reason: "is required"}
	case req.CellIndexStart == nil:
		return &ConfigurationError{Index: index, Field: "cas_cell_index", Reason: "is required"}
	case *req.CellIndexStart < 0:
		return &ConfigurationError{Index: index, Field: "cas_cell_index", Reason: "must not be negative"}
	case req.FeatureIndexStart == nil:
		return &ConfigurationError{Index: index, Field: "cas_feature_index", Reason: "is required"}
	case *req.FeatureIndexStart < 0:
		return &ConfigurationError{Index: index, Field: "cas_feature_index", Reason: "must not be negative"}
	case req.NumCells < 0 || req.NumFeatures < 0:
		return &ConfigurationError{Index: index, Field: "num_cells/num_features", Reason: "must not be negative"}
	case *req.CellIndexStart > math.MaxInt64-req.NumCells:
		return &ConfigurationError{Index: index, Field: "cas_cell_index", Reason: "range overflows int64"}
	case *req.FeatureIndexStart > math.MaxInt64-req.NumFeatures:
		return &ConfigurationError{Index: index, Field: "cas_feature_index", Reason: "range overflows int64"}
	}
	return nil
}
