// effnet-bench: times an EfficientNet block by block and the classifier head
// under CKKS at one or more ring degrees.
//
// Usage:
//
//	effnet-bench --version=b0 --image-size=32 --iters=5 --out=bench.csv
//	effnet-bench --log-ns=13,14 --skip-blocks
package main

import (
	"fmt"
	"os"

	"effnet/cmd/internal/app"
	"effnet/logging"
	"effnet/nn/bench"
	"effnet/tensor"
	"effnet/utils"

	"github.com/spf13/cobra"
)

func main() {
	root := app.NewRoot("effnet-bench", "Time EfficientNet blocks and the encrypted head", run)
	f := root.Flags()
	f.String("version", "b0", "EfficientNet version b0..b7")
	f.Int("num-classes", 100, "number of output classes")
	f.Uint64("seed", 0, "random seed")
	f.Int("image-size", 32, "input resolution")
	f.Int("images", 1, "images per timed pass")
	f.Int("iters", 3, "timed runs per layer")
	f.Int("warmup", 1, "untimed runs per layer")
	f.IntSlice("log-ns", []int{13}, "ring degree exponents for the encrypted head")
	f.Bool("skip-blocks", false, "only time the encrypted head")
	f.String("out", "", "CSV file for block timings (default stdout)")
	app.Main(root)
}

func run(cmd *cobra.Command, a *app.App) error {
	cfg := a.Config
	iters, _ := cmd.Flags().GetInt("iters")
	warmup, _ := cmd.Flags().GetInt("warmup")
	logNs, _ := cmd.Flags().GetIntSlice("log-ns")
	skipBlocks, _ := cmd.Flags().GetBool("skip-blocks")
	outPath, _ := cmd.Flags().GetString("out")
	log := logging.FromContext(cmd.Context())

	m, err := app.BuildModel(cfg)
	if err != nil {
		return err
	}
	images, _ := cmd.Flags().GetInt("images")
	x := tensor.New(images, 3, cfg.ImageSize, cfg.ImageSize)
	for i := range x.Data {
		x.Data[i] = float64(i%17)/8 - 1
	}
	w := cmd.OutOrStdout()

	if !skipBlocks {
		rows, err := bench.ProfileBlocks(m, x, iters, warmup)
		if err != nil {
			return err
		}
		out := w
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		if err := bench.WriteCSV(out, m.Tag(), rows); err != nil {
			return err
		}
		log.Info().Int("layers", len(rows)).Msg("Block timings written")
	}

	feats, err := m.Embed(x)
	if err != nil {
		return err
	}
	for _, logN := range logNs {
		ht, err := bench.TimeEncryptedHead(m.Head(), feats.Data[:m.FeatureDim()], logN, iters)
		if err != nil {
			return fmt.Errorf("logN %d: %w", logN, err)
		}
		fmt.Fprintf(w, "encrypted head %s: encrypt %.3f ms, eval %.3f ms, decrypt %.3f ms\n",
			ht.Params, utils.DurationUS(ht.Encrypt)/1000, utils.DurationUS(ht.Eval)/1000, utils.DurationUS(ht.Decrypt)/1000)
	}
	return nil
}
