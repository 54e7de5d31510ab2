package core

import (
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// FindLocalFiles expands glob patterns (with ** support) into the sorted
// list of regular files they match.
func FindLocalFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			info, err := os.Lstat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
			}
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// CreateScratchDir creates a fresh working directory for one attempt of a job.
func CreateScratchDir(jobID uuid.UUID) (string, error) {
	return os.MkdirTemp("", "casbatch-job-"+jobID.String()+"-")
}
