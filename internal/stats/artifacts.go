// Package stats writes per-run artifact directories and the run index that
// catalogs them.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lethe/internal/config"
	"lethe/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig records everything needed to reproduce a run.
type RunConfig struct {
	RunID        string                `json:"run_id"`
	Spec         model.Spec            `json:"spec"`
	Training     config.TrainingConfig `json:"training"`
	History      config.HistoryConfig  `json:"history"`
	Store        string                `json:"store"`
	CreatedAtUTC string                `json:"created_at_utc"`
}

// RunArtifacts is the full on-disk record of one run.
type RunArtifacts struct {
	Config      RunConfig        `json:"config"`
	LossHistory []float64        `json:"loss_history"`
	Summary     model.FitSummary `json:"summary"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Status       string  `json:"status"`
	Steps        int64   `json:"steps"`
	TrainLoss    float64 `json:"train_loss"`
	ValLoss      float64 `json:"val_loss"`
	Variational  bool    `json:"variational"`
	Seed         int64   `json:"seed"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts creates (or refreshes) the run directory and returns its
// path.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "loss_history.json"), artifacts.LossHistory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fit_summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	return runDir, nil
}

// EnsureRunDir creates the run directory if needed and returns its path.
func EnsureRunDir(baseDir, runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	return runDir, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadFitSummary(baseDir, runID string) (model.FitSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "fit_summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.FitSummary{}, false, nil
		}
		return model.FitSummary{}, false, err
	}

	var summary model.FitSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.FitSummary{}, false, err
	}
	return summary, true, nil
}

func ReadLossHistory(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "loss_history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, err
	}
	return history, true, nil
}

// WritePredictionsCSV writes one row per prediction under the run
// directory. Interval columns are blank when no posterior was available.
func WritePredictionsCSV(runDir string, predictions []model.Prediction) error {
	path := filepath.Join(runDir, "predictions.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"index", "series", "time", "mean", "lower", "upper"}); err != nil {
		return err
	}
	for _, p := range predictions {
		lower, upper := "", ""
		if p.HasInterval {
			lower = strconv.FormatFloat(p.Lower, 'f', -1, 64)
			upper = strconv.FormatFloat(p.Upper, 'f', -1, 64)
		}
		if err := writer.Write([]string{
			strconv.Itoa(p.Index),
			p.Series,
			strconv.FormatFloat(p.Time, 'f', -1, 64),
			strconv.FormatFloat(p.Mean, 'f', -1, 64),
			lower,
			upper,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadPredictionsCSV(baseDir, runID string) ([]model.Prediction, bool, error) {
	path := filepath.Join(baseDir, runID, "predictions.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.Prediction{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("predictions header must have at least 4 columns")
	}

	predictions := make([]model.Prediction, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 4 {
			return nil, false, fmt.Errorf("predictions row must have at least 4 columns")
		}
		index, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		t, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		mean, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, false, err
		}
		p := model.Prediction{Index: index, Series: record[1], Time: t, Mean: mean}
		if len(record) >= 6 && record[4] != "" && record[5] != "" {
			lower, err := strconv.ParseFloat(record[4], 64)
			if err != nil {
				return nil, false, err
			}
			upper, err := strconv.ParseFloat(record[5], 64)
			if err != nil {
				return nil, false, err
			}
			p.HasInterval, p.Lower, p.Upper = true, lower, upper
		}
		predictions = append(predictions, p)
	}
	return predictions, true, nil
}

// AppendRunIndex upserts an entry keyed by run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies one run's directory to outDir. The optional
// predictions file is copied when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "loss_history.json", "fit_summary.json"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	predictionsPath := filepath.Join(src, "predictions.csv")
	if _, err := os.Stat(predictionsPath); err == nil {
		if err := copyFile(predictionsPath, filepath.Join(dst, "predictions.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
