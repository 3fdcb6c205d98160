package trainer

import (
	"fmt"
	"os"

	"effnet/utils"

	"github.com/goccy/go-yaml"
)

// Accuracy is a top-1 hit count.
type Accuracy struct {
	Correct  int     `yaml:"correct"`
	Total    int     `yaml:"total"`
	Accuracy float64 `yaml:"accuracy"` // percent
}

func newAccuracy(correct, total int) Accuracy {
	a := Accuracy{Correct: correct, Total: total}
	if total > 0 {
		a.Accuracy = 100 * float64(correct) / float64(total)
	}
	return a
}

// VariantResult is the outcome of one grid point.
type VariantResult struct {
	Name         string    `yaml:"name"`
	LearningRate float64   `yaml:"learning_rate"`
	WeightDecay  float64   `yaml:"weight_decay"`
	EpochLosses  []float64 `yaml:"epoch_losses"`
	Checkpoint   string    `yaml:"checkpoint"`
	TrainSeconds float64   `yaml:"train_seconds"`
	Test         Accuracy  `yaml:"test"`
	Val          Accuracy  `yaml:"val"`
}

// Results summarizes a grid run.
type Results struct {
	Version       string            `yaml:"version"`
	LearningRates []float64         `yaml:"learning_rates"`
	WeightDecays  []float64         `yaml:"weight_decays"`
	Variants      []VariantResult   `yaml:"variants"`
	Timing        map[string]string `yaml:"timing,omitempty"`
}

// AccuracyGrid returns test accuracy indexed [lr][wd].
func (r *Results) AccuracyGrid() [][]float64 {
	grid := make([][]float64, len(r.LearningRates))
	for i := range grid {
		grid[i] = make([]float64, len(r.WeightDecays))
	}
	for _, v := range r.Variants {
		for i, lr := range r.LearningRates {
			for j, wd := range r.WeightDecays {
				if v.LearningRate == lr && v.WeightDecay == wd {
					grid[i][j] = v.Test.Accuracy
				}
			}
		}
	}
	return grid
}

// WriteResults stores r as YAML.
func WriteResults(path string, r *Results) error {
	out, err := yaml.MarshalWithOptions(r, yaml.Indent(2))
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// ReadResults loads a file written by WriteResults.
func ReadResults(path string) (*Results, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Results
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parsing results %s: %w", path, err)
	}
	return &r, nil
}

func summarizeTiming(s *utils.TimingStats) map[string]string {
	m := map[string]string{}
	add := func(k string, v interface{ String() string }) { m[k] = v.String() }
	add("total", s.TotalTime)
	add("data_loading", s.DataLoadingTime)
	add("model_init", s.ModelInitTime)
	add("forward", s.ForwardPassTime)
	add("backward", s.BackwardPassTime)
	add("update", s.UpdateTime)
	add("eval", s.EvalTime)
	add("checkpoint", s.CheckpointTime)
	return m
}
