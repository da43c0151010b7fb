package storage

import (
	"encoding/json"
	"errors"

	"lethe/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp marks a record as written by the current schema and codec.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func EncodeCheckpoint(c model.Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	var checkpoint model.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return model.Checkpoint{}, err
	}
	if err := checkVersion(checkpoint.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	// Slot lookup maps do not cross the codec boundary; rebuild them.
	checkpoint.State.Schema.Reindex()
	return checkpoint, nil
}

func EncodeFitSummary(s model.FitSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeFitSummary(data []byte) (model.FitSummary, error) {
	var summary model.FitSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.FitSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.FitSummary{}, err
	}
	return summary, nil
}

func EncodeLossHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeLossHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeDiagnostics(diagnostics []model.StepDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeDiagnostics(data []byte) ([]model.StepDiagnostics, error) {
	var diagnostics []model.StepDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
