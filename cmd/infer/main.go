// effnet-infer: classifies test images with a trained checkpoint, either in
// plaintext or with the classifier head evaluated under CKKS encryption.
//
// Usage:
//
//	effnet-infer --checkpoint=checkpoints/effnetb0_std_lr0.1_wd0.0005_final.json --count=8
//	effnet-infer --checkpoint=... --encrypted --topk=5
package main

import (
	"errors"
	"fmt"
	"time"

	"effnet/cmd/internal/app"
	"effnet/core/ckkswrapper"
	"effnet/data"
	"effnet/logging"
	"effnet/nn"
	"effnet/nn/efficientnet"
	"effnet/tensor"
	"effnet/trainer"
	"effnet/utils"

	"github.com/spf13/cobra"
)

func main() {
	root := app.NewRoot("effnet-infer", "Classify test images with a trained checkpoint", run)
	f := root.Flags()
	f.String("checkpoint", "", "checkpoint JSON (required)")
	f.String("version", "b0", "EfficientNet version the checkpoint was trained with")
	f.Int("num-classes", 100, "number of output classes")
	f.String("data-root", "./data/cifar-100-binary", "directory holding test.bin")
	f.Int("val-size", 5000, "test images held out for validation, skipped here")
	f.Int("synthetic", 0, "use n synthetic images instead of CIFAR-100")
	f.Int("image-size", 32, "synthetic image size")
	f.Int("count", 8, "number of test images to classify")
	f.Int("topk", 3, "top predictions to show")
	f.Bool("encrypted", false, "evaluate the classifier head under CKKS")
	f.Int("log-n", 13, "CKKS ring degree exponent")
	app.Main(root)
}

func run(cmd *cobra.Command, a *app.App) error {
	cfg := a.Config
	checkpoint, _ := cmd.Flags().GetString("checkpoint")
	if checkpoint == "" {
		return errors.New("--checkpoint is required")
	}
	count, _ := cmd.Flags().GetInt("count")
	topK, _ := cmd.Flags().GetInt("topk")
	encrypted, _ := cmd.Flags().GetBool("encrypted")
	log := logging.FromContext(cmd.Context())

	var stats utils.TimingStats
	stopInit := stats.Track(&stats.ModelInitTime)
	model, err := app.LoadModel(cfg, checkpoint)
	stopInit()
	if err != nil {
		return err
	}
	log.Info().Str("checkpoint", checkpoint).Str("model", model.Tag()).Msg("Model loaded")

	splits, err := app.LoadSplits(cfg)
	if err != nil {
		return err
	}
	batch, err := firstImages(splits.Test.Dataset(), count)
	if err != nil {
		return err
	}

	start := time.Now()
	var preds [][]trainer.Prediction
	if encrypted {
		preds, err = classifyEncrypted(model, batch.Images, cfg.LogN, topK, &stats)
	} else {
		stopFwd := stats.Track(&stats.ForwardPassTime)
		preds, err = trainer.Predict(model, batch.Images, topK)
		stopFwd()
	}
	if err != nil {
		return err
	}
	stats.TotalTime = time.Since(start)

	classes := splits.Test.Dataset().Classes
	w := cmd.OutOrStdout()
	correct := 0
	for i, p := range preds {
		label := batch.Labels[i]
		if p[0].Class == label {
			correct++
		}
		fmt.Fprintf(w, "image %d (label %s):", i, data.ClassName(classes, label))
		for _, c := range p {
			fmt.Fprintf(w, " %s %.1f%%", data.ClassName(classes, c.Class), 100*c.Probability)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "top-1: %d/%d\n", correct, len(preds))

	utils.Output = w
	utils.PrintTimingStats(&stats, len(preds))
	return nil
}

func firstImages(ds *data.Dataset, n int) (*data.Batch, error) {
	n = min(n, ds.Len())
	if n <= 0 {
		return nil, errors.New("no test images to classify")
	}
	loader, err := data.NewLoader(ds, n)
	if err != nil {
		return nil, err
	}
	it := loader.Iter()
	it.Next()
	return it.Batch(), nil
}

// classifyEncrypted runs the feature extractor in plaintext and the head on
// ciphertexts, with client and server roles in one process.
func classifyEncrypted(m *efficientnet.EfficientNet, x *tensor.Tensor, logN, k int, stats *utils.TimingStats) ([][]trainer.Prediction, error) {
	stopInit := stats.Track(&stats.HEInitTime)
	he, err := newHeContext(logN)
	if err != nil {
		stopInit()
		return nil, err
	}
	head := m.Head()
	kit := he.GenServerKit(head.CipherRotations())
	stopInit()

	stopFwd := stats.Track(&stats.ForwardPassTime)
	feats, err := m.Embed(x)
	stopFwd()
	if err != nil {
		return nil, err
	}

	n, dim := feats.Shape[0], feats.Shape[1]
	logits := tensor.New(n, head.OutDim())
	for i := 0; i < n; i++ {
		stopEnc := stats.Track(&stats.EncryptionTime)
		ct, err := he.EncryptVector(feats.Data[i*dim : (i+1)*dim])
		stopEnc()
		if err != nil {
			return nil, err
		}
		stopHead := stats.Track(&stats.ServerHeadTime)
		out, err := head.ForwardCipher(ct, kit)
		stopHead()
		if err != nil {
			return nil, err
		}
		stopDec := stats.Track(&stats.DecryptionTime)
		row, err := he.DecryptVector(out, head.OutDim())
		stopDec()
		if err != nil {
			return nil, err
		}
		copy(logits.Data[i*head.OutDim():], row)
	}
	return trainer.TopK(nn.Softmax(logits), k), nil
}

func newHeContext(logN int) (*ckkswrapper.HeContext, error) {
	if _, err := ckkswrapper.NewParameters(logN); err != nil {
		return nil, err
	}
	return ckkswrapper.NewHeContextWithLogN(logN), nil
}
