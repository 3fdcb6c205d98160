// effnet-train: trains EfficientNet on CIFAR-100 over a learning-rate x
// weight-decay grid and reports test and validation accuracy per variant.
//
// Usage:
//
//	effnet-train --version=b0 --epochs=120 --data-root=./data/cifar-100-binary
//	effnet-train --synthetic=256 --image-size=16 --epochs=2 --version=b0
package main

import (
	"fmt"
	"path/filepath"

	"effnet/cmd/internal/app"
	"effnet/logging"
	"effnet/trainer"
	"effnet/utils"

	"github.com/spf13/cobra"
)

func main() {
	root := app.NewRoot("effnet-train", "Train EfficientNet over a hyperparameter grid", run)
	f := root.Flags()
	f.String("version", "b0", "EfficientNet version b0..b7")
	f.Int("num-classes", 100, "number of output classes")
	f.Float64("survival-prob", 0.8, "stochastic depth survival probability")
	f.Uint64("seed", 0, "random seed")
	f.String("data-root", "./data/cifar-100-binary", "directory holding train.bin and test.bin")
	f.Int("val-size", 5000, "test images held out for validation")
	f.Int("synthetic", 0, "use n synthetic images instead of CIFAR-100")
	f.Int("image-size", 32, "synthetic image size")
	f.Int("batch-size", 128, "minibatch size")
	f.Int("epochs", 120, "epochs per variant")
	f.Int("save-every", 10, "checkpoint interval in epochs")
	// string slices so the config loader can decode them like env values
	f.StringSlice("learning-rates", []string{"0.1", "0.01"}, "learning rates to try")
	f.StringSlice("weight-decays", []string{"5e-4"}, "weight decays to try")
	f.Float64("momentum", 0.9, "SGD momentum")
	f.IntSlice("milestones", []int{40, 80}, "epochs at which the learning rate decays")
	f.Float64("gamma", 0.1, "learning-rate decay factor")
	f.String("output-dir", "./checkpoints", "checkpoint directory")
	f.String("results", "", "results YAML (default <output-dir>/results.yaml)")
	app.Main(root)
}

func run(cmd *cobra.Command, a *app.App) error {
	cfg := a.Config
	if err := utils.ValidateConfig(cfg); err != nil {
		return err
	}
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	var stats utils.TimingStats
	stopLoad := stats.Track(&stats.DataLoadingTime)
	splits, err := app.LoadSplits(cfg)
	stopLoad()
	if err != nil {
		return err
	}
	log.Info().
		Str("version", cfg.Version).
		Int("train", splits.Train.Dataset().Len()).
		Int("val", splits.Val.Dataset().Len()).
		Int("test", splits.Test.Dataset().Len()).
		Msg("Data ready")

	tr := trainer.New(trainer.ConfigFrom(cfg))
	res, err := tr.RunGrid(ctx, splits.Train, splits.Test, splits.Val)
	if res != nil && len(res.Variants) > 0 {
		printResults(cmd, res)
	}
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("results")
	if out == "" {
		out = filepath.Join(cfg.OutputDir, "results.yaml")
	}
	if err := trainer.WriteResults(out, res); err != nil {
		return err
	}
	log.Info().Str("path", out).Msg("Results written")

	stats.Add(&tr.Stats)
	utils.Output = cmd.OutOrStdout()
	utils.PrintTimingStats(&stats, len(res.Variants)*cfg.Epochs)
	return nil
}

func printResults(cmd *cobra.Command, res *trainer.Results) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n%-40s %10s %10s\n", "Variant", "Test %", "Val %")
	for _, v := range res.Variants {
		fmt.Fprintf(w, "%-40s %10.2f %10.2f\n", v.Name, v.Test.Accuracy, v.Val.Accuracy)
	}
	fmt.Fprintln(w)
}
