package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for different operations
type TimingStats struct {
	TotalTime        time.Duration
	DataLoadingTime  time.Duration
	ModelInitTime    time.Duration
	ForwardPassTime  time.Duration
	BackwardPassTime time.Duration
	UpdateTime       time.Duration
	EvalTime         time.Duration
	CheckpointTime   time.Duration

	HEInitTime     time.Duration
	EncryptionTime time.Duration
	DecryptionTime time.Duration
	ServerHeadTime time.Duration
}

// Track starts a timer and returns a func that adds the elapsed time to d:
//
//	defer stats.Track(&stats.ForwardPassTime)()
func (s *TimingStats) Track(d *time.Duration) func() {
	start := time.Now()
	return func() { *d += time.Since(start) }
}

// Add accumulates other into s.
func (s *TimingStats) Add(other *TimingStats) {
	s.TotalTime += other.TotalTime
	s.DataLoadingTime += other.DataLoadingTime
	s.ModelInitTime += other.ModelInitTime
	s.ForwardPassTime += other.ForwardPassTime
	s.BackwardPassTime += other.BackwardPassTime
	s.UpdateTime += other.UpdateTime
	s.EvalTime += other.EvalTime
	s.CheckpointTime += other.CheckpointTime
	s.HEInitTime += other.HEInitTime
	s.EncryptionTime += other.EncryptionTime
	s.DecryptionTime += other.DecryptionTime
	s.ServerHeadTime += other.ServerHeadTime
}

func pct(part, total time.Duration) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, steps int) {
	if !Verbose {
		return
	}
	if steps <= 0 {
		steps = 1
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Average time per step: %v\n", stats.TotalTime/time.Duration(steps))
	fmt.Fprintf(Output, "Steps completed: %d\n", steps)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	rows := []struct {
		name string
		d    time.Duration
	}{
		{"Data loading", stats.DataLoadingTime},
		{"Model initialization", stats.ModelInitTime},
		{"Forward pass", stats.ForwardPassTime},
		{"Backward pass", stats.BackwardPassTime},
		{"Weight updates", stats.UpdateTime},
		{"Evaluation", stats.EvalTime},
		{"Checkpointing", stats.CheckpointTime},
		{"HE initialization", stats.HEInitTime},
		{"Encryption", stats.EncryptionTime},
		{"Decryption", stats.DecryptionTime},
		{"Server head", stats.ServerHeadTime},
	}
	for _, r := range rows {
		if r.d == 0 {
			continue
		}
		fmt.Fprintf(Output, "  %s: %v (%.1f%%)\n", r.name, r.d, pct(r.d, stats.TotalTime))
	}
	fmt.Fprintln(Output, "\nPerformance metrics:")
	fmt.Fprintf(Output, "  Average forward pass time: %v\n", stats.ForwardPassTime/time.Duration(steps))
	fmt.Fprintf(Output, "  Average backward pass time: %v\n", stats.BackwardPassTime/time.Duration(steps))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
