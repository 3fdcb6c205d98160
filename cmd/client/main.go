// effnet-client: classifies test images through a split inference server.
// Features are extracted locally; only encrypted feature vectors are sent.
//
// Usage:
//
//	effnet-client --checkpoint=checkpoints/effnetb0_std_lr0.1_wd0.0005_final.json --addr=127.0.0.1:7070
package main

import (
	"errors"
	"fmt"

	"effnet/cmd/internal/app"
	"effnet/data"
	"effnet/logging"
	"effnet/nn"
	"effnet/split"
	"effnet/trainer"
	"effnet/utils"

	"github.com/spf13/cobra"
)

func main() {
	root := app.NewRoot("effnet-client", "Classify images through a split inference server", run)
	f := root.Flags()
	f.String("checkpoint", "", "checkpoint JSON holding the feature extractor (required)")
	f.String("version", "b0", "EfficientNet version the checkpoint was trained with")
	f.Int("num-classes", 100, "number of output classes")
	f.String("addr", "127.0.0.1:7070", "server address")
	f.String("data-root", "./data/cifar-100-binary", "directory holding test.bin")
	f.Int("val-size", 5000, "test images held out for validation, skipped here")
	f.Int("synthetic", 0, "use n synthetic images instead of CIFAR-100")
	f.Int("image-size", 32, "synthetic image size")
	f.Int("batch-size", 128, "images per request batch")
	f.Int("batches", 1, "number of batches to classify")
	f.Int("topk", 3, "top predictions to show")
	app.Main(root)
}

func run(cmd *cobra.Command, a *app.App) error {
	cfg := a.Config
	checkpoint, _ := cmd.Flags().GetString("checkpoint")
	if checkpoint == "" {
		return errors.New("--checkpoint is required")
	}
	batches, _ := cmd.Flags().GetInt("batches")
	topK, _ := cmd.Flags().GetInt("topk")
	ctx := cmd.Context()
	log := logging.FromContext(ctx)

	model, err := app.LoadModel(cfg, checkpoint)
	if err != nil {
		return err
	}
	splits, err := app.LoadSplits(cfg)
	if err != nil {
		return err
	}

	client, err := split.Dial(ctx, cfg.Addr, model)
	if err != nil {
		return err
	}
	defer client.Close()
	if h := client.Hello(); h.Model != model.Tag() {
		log.Warn().Str("server", h.Model).Str("local", model.Tag()).Msg("Server serves a different model")
	}

	classes := splits.Test.Dataset().Classes
	w := cmd.OutOrStdout()
	correct, total := 0, 0
	it := splits.Test.Iter()
	for b := 0; b < batches && it.Next(); b++ {
		batch := it.Batch()
		logits, err := client.Classify(ctx, batch.Images)
		if err != nil {
			return err
		}
		for i, p := range trainer.TopK(nn.Softmax(logits), topK) {
			label := batch.Labels[i]
			if p[0].Class == label {
				correct++
			}
			total++
			fmt.Fprintf(w, "label %-16s predicted %-16s %.1f%%\n",
				data.ClassName(classes, label), data.ClassName(classes, p[0].Class), 100*p[0].Probability)
		}
	}
	fmt.Fprintf(w, "top-1: %d/%d\n", correct, total)

	client.Stats.TotalTime = client.Stats.ForwardPassTime + client.Stats.EncryptionTime +
		client.Stats.ServerHeadTime + client.Stats.DecryptionTime
	utils.Output = w
	utils.PrintTimingStats(&client.Stats, total)
	return nil
}
