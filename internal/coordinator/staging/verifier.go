package staging

import (
	"context"
	"fmt"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

// Verifier confirms that a succeeded job staged at least one object under
// its stage dir whose name starts with the job's output stem.
type Verifier struct {
	store  ObjectStore
	logger logging.Logger
}

func NewVerifier(store ObjectStore, logger logging.Logger) *Verifier {
	return &Verifier{store: store, logger: logger}
}

func (v *Verifier) Verify(ctx context.Context, desc *core.JobDescriptor) ([]string, error) {
	stage, err := ParseLocation(desc.StageDir)
	if err != nil {
		return nil, fmt.Errorf("stage dir: %w", err)
	}

	prefix := stage.Join(desc.OutputStem())
	objects, err := v.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w under %s", core.ErrNoOutputs, prefix)
	}

	outputs := make([]string, len(objects))
	for i, obj := range objects {
		outputs[i] = obj.String()
	}
	v.logger.Debug("Verified staged outputs", "job_id", desc.ID, "prefix", prefix.String(), "count", len(outputs))
	return outputs, nil
}
