package grpc

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	coordinator "github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/worker/core"
)

// Wire keys of the RunAttempt request and response structs.
const (
	keyJobID             = "job_id"
	keyBatchID           = "batch_id"
	keyIndex             = "index"
	keyInputBucket       = "gcs_input_bucket"
	keyFilePath          = "gcs_file_path"
	keyStageDir          = "gcs_stage_dir"
	keyCellIndexStart    = "cas_cell_index_start"
	keyFeatureIndexStart = "cas_feature_index_start"
	keyProgram           = "program"
	keyArgs              = "args"
	keyCPU               = "cpu"
	keyMemoryGB          = "memory_gb"
	keyBootDiskGB        = "boot_disk_gb"

	keyContextID = "context_id"
	keyStatus    = "status"
	keyExitCode  = "exit_code"
	keyMessage   = "message"
)

func EncodeAttemptRequest(desc *coordinator.JobDescriptor, shape coordinator.ResourceShape) (*structpb.Struct, error) {
	fields := map[string]any{
		keyJobID:             desc.ID.String(),
		keyBatchID:           desc.BatchID.String(),
		keyIndex:             desc.Index,
		keyInputBucket:       desc.InputBucket,
		keyFilePath:          desc.FilePath,
		keyStageDir:          desc.StageDir,
		keyCellIndexStart:    desc.CellIndexStart,
		keyFeatureIndexStart: desc.FeatureIndexStart,
		keyCPU:               shape.CPU,
		keyMemoryGB:          shape.MemoryGB,
		keyBootDiskGB:        shape.BootDiskGB,
	}
	if desc.Template != nil {
		args := make([]any, len(desc.Template.Args))
		for i, arg := range desc.Template.Args {
			args[i] = arg
		}
		fields[keyProgram] = desc.Template.Program
		fields[keyArgs] = args
	}
	return structpb.NewStruct(fields)
}

func DecodeAttemptRequest(s *structpb.Struct) (*coordinator.JobDescriptor, coordinator.ResourceShape, error) {
	fields := s.GetFields()
	jobID, err := uuid.Parse(fields[keyJobID].GetStringValue())
	if err != nil {
		return nil, coordinator.ResourceShape{}, fmt.Errorf("invalid %s: %w", keyJobID, err)
	}
	batchID, err := uuid.Parse(fields[keyBatchID].GetStringValue())
	if err != nil {
		return nil, coordinator.ResourceShape{}, fmt.Errorf("invalid %s: %w", keyBatchID, err)
	}

	desc := &coordinator.JobDescriptor{
		ID:                jobID,
		BatchID:           batchID,
		Index:             int(fields[keyIndex].GetNumberValue()),
		InputBucket:       fields[keyInputBucket].GetStringValue(),
		FilePath:          fields[keyFilePath].GetStringValue(),
		StageDir:          fields[keyStageDir].GetStringValue(),
		CellIndexStart:    int64(fields[keyCellIndexStart].GetNumberValue()),
		FeatureIndexStart: int64(fields[keyFeatureIndexStart].GetNumberValue()),
	}
	if program, ok := fields[keyProgram]; ok {
		template := &coordinator.InvocationTemplate{Program: program.GetStringValue()}
		for _, arg := range fields[keyArgs].GetListValue().GetValues() {
			template.Args = append(template.Args, arg.GetStringValue())
		}
		desc.Template = template
	}
	if desc.InputBucket == "" || desc.FilePath == "" || desc.StageDir == "" {
		return nil, coordinator.ResourceShape{}, fmt.Errorf("incomplete job descriptor %s", jobID)
	}

	shape := coordinator.ResourceShape{
		CPU:        int(fields[keyCPU].GetNumberValue()),
		MemoryGB:   int(fields[keyMemoryGB].GetNumberValue()),
		BootDiskGB: int(fields[keyBootDiskGB].GetNumberValue()),
	}
	return desc, shape, nil
}

func EncodeAttemptReport(report core.AttemptReport) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		keyContextID: report.ContextID,
		keyStatus:    string(report.Result.Status),
		keyExitCode:  report.Result.ExitCode,
		keyMessage:   report.Result.Message,
	})
}

func DecodeAttemptReport(s *structpb.Struct) (core.AttemptReport, error) {
	fields := s.GetFields()
	status := coordinator.AttemptStatus(fields[keyStatus].GetStringValue())
	switch status {
	case coordinator.AttemptSucceeded, coordinator.AttemptFailed, coordinator.AttemptPreempted:
	default:
		return core.AttemptReport{}, fmt.Errorf("unknown attempt status %q", status)
	}
	return core.AttemptReport{
		ContextID: fields[keyContextID].GetStringValue(),
		Result: coordinator.AttemptResult{
			Status:   status,
			ExitCode: int(fields[keyExitCode].GetNumberValue()),
			Message:  fields[keyMessage].GetStringValue(),
		},
	}, nil
}
