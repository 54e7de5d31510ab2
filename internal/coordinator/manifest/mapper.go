package manifest

import (
	"strings"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
)

// Defaults fill fields a manifest entry leaves empty.
type Defaults struct {
	InputBucket string
	StageDir    string
}

// ToRequest converts the entry into a conversion request. A df_filename of
// the form gs://bucket/path carries its own bucket.
func (e Entry) ToRequest(defaults Defaults) core.ConversionRequest {
	bucket, path := e.InputBucket, strings.TrimSpace(e.FileName)
	if rest, ok := strings.CutPrefix(path, "gs://"); ok {
		if b, p, found := strings.Cut(rest, "/"); found {
			if bucket == "" {
				bucket = b
			}
			path = p
		}
	}
	if bucket == "" {
		bucket = defaults.InputBucket
	}

	stageDir := e.StageDir
	if stageDir == "" {
		stageDir = defaults.StageDir
	}

	return core.ConversionRequest{
		InputBucket:       bucket,
		FilePath:          path,
		StageDir:          stageDir,
		CellIndexStart:    e.CellIndexStart,
		FeatureIndexStart: e.FeatureIndexStart,
		NumCells:          e.NumCells,
		NumFeatures:       e.NumFeatures,
	}
}

func ToRequests(entries []Entry, defaults Defaults) []core.ConversionRequest {
	requests := make([]core.ConversionRequest, 0, len(entries))
	for _, e := range entries {
		requests = append(requests, e.ToRequest(defaults))
	}
	return requests
}
