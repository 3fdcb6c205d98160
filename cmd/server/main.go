// effnet-server: serves the classifier head of a trained checkpoint to split
// inference clients. Clients send CKKS-encrypted pooled features and receive
// encrypted logits; the server never holds a secret key.
//
// Usage:
//
//	effnet-server --checkpoint=checkpoints/effnetb0_std_lr0.1_wd0.0005_final.json --addr=:7070
package main

import (
	"errors"

	"effnet/cmd/internal/app"
	"effnet/split"

	"github.com/spf13/cobra"
)

func main() {
	root := app.NewRoot("effnet-server", "Serve an encrypted classifier head", run)
	f := root.Flags()
	f.String("checkpoint", "", "checkpoint JSON (required)")
	f.String("version", "b0", "EfficientNet version the checkpoint was trained with")
	f.Int("num-classes", 100, "number of output classes")
	f.String("addr", "127.0.0.1:7070", "listen address")
	f.Int("log-n", 13, "CKKS ring degree exponent")
	app.Main(root)
}

func run(cmd *cobra.Command, a *app.App) error {
	cfg := a.Config
	checkpoint, _ := cmd.Flags().GetString("checkpoint")
	if checkpoint == "" {
		return errors.New("--checkpoint is required")
	}
	model, err := app.LoadModel(cfg, checkpoint)
	if err != nil {
		return err
	}
	srv, err := split.NewServer(model.Tag(), model.Head(), cfg.LogN)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(cmd.Context(), cfg.Addr)
}
