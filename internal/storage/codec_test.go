package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"lethe/internal/model"
)

func TestDecodeCheckpointFixture(t *testing.T) {
	checkpoint := decodeCheckpointFixture(t, "minimal_checkpoint_v1.json")
	if checkpoint.RunID != "run-minimal-1" {
		t.Fatalf("unexpected run id: %s", checkpoint.RunID)
	}
	if checkpoint.Step != 500 {
		t.Fatalf("unexpected step: %d", checkpoint.Step)
	}
	if len(checkpoint.State.Params) != len(checkpoint.State.Schema.Slots) {
		t.Fatalf("params/slots mismatch: %d vs %d",
			len(checkpoint.State.Params), len(checkpoint.State.Schema.Slots))
	}
}

func TestDecodeCheckpointRebuildsSchemaIndex(t *testing.T) {
	checkpoint := decodeCheckpointFixture(t, "minimal_checkpoint_v1.json")
	// Lookups must work on a freshly decoded schema.
	if _, ok := checkpoint.State.Schema.CoefSlot("x"); !ok {
		t.Fatal("decoded schema lost coefficient slot lookup")
	}
	noise := checkpoint.State.Schema.NoiseSlot()
	if checkpoint.State.Schema.Slots[noise].Kind != model.SlotNoise {
		t.Fatalf("noise slot index %d points at %q", noise, checkpoint.State.Schema.Slots[noise].Kind)
	}
}

func TestCheckpointCodecRoundTrip(t *testing.T) {
	input := testCheckpoint("run-1", 250)

	encoded, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCheckpoint(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.RunID != input.RunID || decoded.Step != input.Step || decoded.Seed != input.Seed {
		t.Fatalf("decoded checkpoint mismatch: got=%+v want=%+v", decoded, input)
	}
	if !reflect.DeepEqual(decoded.State.Params, input.State.Params) {
		t.Fatalf("params mismatch: got=%v want=%v", decoded.State.Params, input.State.Params)
	}
	if !reflect.DeepEqual(decoded.Optimizer.M, input.Optimizer.M) {
		t.Fatalf("optimizer moments mismatch: got=%v want=%v", decoded.Optimizer.M, input.Optimizer.M)
	}
}

func TestCheckpointCodecVersionMismatch(t *testing.T) {
	input := testCheckpoint("run-1", 250)
	input.CodecVersion++

	encoded, err := EncodeCheckpoint(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeCheckpoint(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestFitSummaryCodecRoundTrip(t *testing.T) {
	input := model.FitSummary{
		VersionedRecord: Stamp(),
		RunID:           "run-1",
		Status:          "stopped_early",
		Steps:           5000,
		TrainLoss:       0.73,
		ValLoss:         0.81,
		Train:           model.FitStats{N: 900, LogLik: -1023.4, MSE: 0.52, ExplainedVar: 0.61},
		Validation:      model.FitStats{N: 100, LogLik: -131.9, MSE: 0.66, ExplainedVar: 0.55},
		Warning:         "maximum steps reached before reaching the loss goal",
	}

	encoded, err := EncodeFitSummary(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeFitSummary(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded summary mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestFitSummaryCodecVersionMismatch(t *testing.T) {
	input := model.FitSummary{VersionedRecord: Stamp(), RunID: "run-1"}
	input.SchemaVersion++

	encoded, err := EncodeFitSummary(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = DecodeFitSummary(encoded)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestLossHistoryCodecRoundTrip(t *testing.T) {
	input := []float64{2.1, 1.4, 0.8}
	encoded, err := EncodeLossHistory(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLossHistory(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded history mismatch: got=%+v want=%+v", decoded, input)
	}
}

func TestDiagnosticsCodecRoundTrip(t *testing.T) {
	val := 0.92
	input := []model.StepDiagnostics{
		{Step: 0, TrainLoss: 1.5, GradNorm: 3.1, ElapsedMS: 12},
		{Step: 1, TrainLoss: 1.1, ValLoss: &val, GradNorm: 2.2, ElapsedMS: 11},
	}
	encoded, err := EncodeDiagnostics(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeDiagnostics(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("decoded diagnostics mismatch: got=%+v want=%+v", decoded, input)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func decodeCheckpointFixture(t *testing.T, name string) model.Checkpoint {
	t.Helper()

	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	checkpoint, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return checkpoint
}
