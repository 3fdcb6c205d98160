// Package trainer runs the hyperparameter grid: for every (weight decay,
// learning rate) pair it trains a fresh network, checkpoints it, reloads the
// final weights and reports test and validation accuracy.
package trainer

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"effnet/data"
	"effnet/logging"
	"effnet/nn"
	"effnet/nn/efficientnet"
	"effnet/nn/layers"
	"effnet/tensor"
	"effnet/utils"
)

// ModelFactory builds a fresh, randomly initialised network.
type ModelFactory func(seed uint64) (nn.Module, error)

// Config controls a grid run.
type Config struct {
	Version       string
	NumClasses    int
	SurvivalProb  float64
	Seed          uint64
	Epochs        int
	SaveEvery     int
	LearningRates []float64
	WeightDecays  []float64
	Momentum      float64
	Milestones    []int
	Gamma         float64
	OutputDir     string
}

// ConfigFrom copies the training fields of the shared tool config.
func ConfigFrom(c *utils.Config) Config {
	return Config{
		Version:       c.Version,
		NumClasses:    c.NumClasses,
		SurvivalProb:  c.SurvivalProb,
		Seed:          c.Seed,
		Epochs:        c.Epochs,
		SaveEvery:     c.SaveEvery,
		LearningRates: c.LearningRates,
		WeightDecays:  c.WeightDecays,
		Momentum:      c.Momentum,
		Milestones:    c.Milestones,
		Gamma:         c.Gamma,
		OutputDir:     c.OutputDir,
	}
}

// Trainer orchestrates grid runs. Stats accumulates over every variant.
type Trainer struct {
	cfg      Config
	newModel ModelFactory
	Stats    utils.TimingStats
}

// New creates a trainer that builds EfficientNet networks from cfg.
func New(cfg Config) *Trainer {
	t := &Trainer{cfg: cfg}
	t.newModel = func(seed uint64) (nn.Module, error) {
		return efficientnet.New(cfg.Version, cfg.NumClasses,
			efficientnet.WithSeed(seed),
			efficientnet.WithSurvivalProb(cfg.SurvivalProb))
	}
	return t
}

// WithModelFactory replaces the network builder.
func (t *Trainer) WithModelFactory(f ModelFactory) *Trainer {
	t.newModel = f
	return t
}

// VariantName is the checkpoint stem for one grid point, e.g.
// "effnetb0_std_lr0.01_wd5e-05".
func VariantName(version string, lr, wd float64) string {
	return "effnet" + version + "_std_lr" + formatFloat(lr) + "_wd" + formatFloat(wd)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// CheckpointPath returns <dir>/<name>_<kind>.json, kind being "checkpoint" or "final".
func CheckpointPath(dir, name, kind string) string {
	return filepath.Join(dir, name+"_"+kind+".json")
}

// RunGrid trains every variant, outer loop over weight decay and inner loop
// over learning rate, then evaluates each final checkpoint on test and val.
func (t *Trainer) RunGrid(ctx context.Context, train, test, val *data.Loader) (*Results, error) {
	start := time.Now()
	defer func() { t.Stats.TotalTime += time.Since(start) }()

	res := &Results{
		Version:       t.cfg.Version,
		LearningRates: t.cfg.LearningRates,
		WeightDecays:  t.cfg.WeightDecays,
	}
	variant := uint64(0)
	for _, wd := range t.cfg.WeightDecays {
		for _, lr := range t.cfg.LearningRates {
			vr, err := t.runVariant(ctx, variant, lr, wd, train, test, val)
			if err != nil {
				return res, err
			}
			res.Variants = append(res.Variants, *vr)
			variant++
		}
	}
	res.Timing = summarizeTiming(&t.Stats)
	return res, nil
}

func (t *Trainer) runVariant(ctx context.Context, variant uint64, lr, wd float64, train, test, val *data.Loader) (*VariantResult, error) {
	name := VariantName(t.cfg.Version, lr, wd)
	ctx = logging.WithVariant(ctx, name)
	log := logging.FromContext(ctx)
	log.Info().Float64("lr", lr).Float64("weight_decay", wd).Msg("Starting training")

	stopInit := t.Stats.Track(&t.Stats.ModelInitTime)
	model, err := t.newModel(t.cfg.Seed + variant)
	stopInit()
	if err != nil {
		return nil, fmt.Errorf("%s: build model: %w", name, err)
	}

	opt := nn.NewSGD(model.Params(), t.cfg.Momentum, wd)
	sched := nn.NewMultiStepScheduler(lr, t.cfg.Milestones, t.cfg.Gamma)
	vr := &VariantResult{Name: name, LearningRate: lr, WeightDecay: wd}
	variantStart := time.Now()

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		epochLR := sched.GetLR(epoch)
		loss, err := t.TrainOneEpoch(ctx, model, train, opt, epochLR)
		if err != nil {
			return nil, fmt.Errorf("%s epoch %d: %w", name, epoch, err)
		}
		vr.EpochLosses = append(vr.EpochLosses, loss)
		log.Info().Int("epoch", epoch+1).Float64("lr", epochLR).Float64("loss", loss).Msg("Epoch finished")

		if epoch > 0 && epoch%t.cfg.SaveEvery == 0 {
			path := CheckpointPath(t.cfg.OutputDir, name, "checkpoint")
			if err := t.save(path, model, epoch+1); err != nil {
				return nil, err
			}
			log.Debug().Str("path", path).Msg("Saved checkpoint")
		}
	}

	final := CheckpointPath(t.cfg.OutputDir, name, "final")
	if err := t.save(final, model, t.cfg.Epochs); err != nil {
		return nil, err
	}
	vr.Checkpoint = final
	vr.TrainSeconds = time.Since(variantStart).Seconds()

	// Evaluate what was written, not what is in memory
	if err := LoadCheckpoint(final, model); err != nil {
		return nil, err
	}
	if vr.Test, err = t.evaluate(ctx, model, test); err != nil {
		return nil, fmt.Errorf("%s test: %w", name, err)
	}
	if vr.Val, err = t.evaluate(ctx, model, val); err != nil {
		return nil, fmt.Errorf("%s val: %w", name, err)
	}
	log.Info().
		Float64("test_accuracy", vr.Test.Accuracy).
		Float64("val_accuracy", vr.Val.Accuracy).
		Msg("Variant finished")
	return vr, nil
}

func (t *Trainer) save(path string, model nn.Module, epoch int) error {
	defer t.Stats.Track(&t.Stats.CheckpointTime)()
	return SaveCheckpoint(path, model, t.cfg.NumClasses, epoch)
}

func (t *Trainer) evaluate(ctx context.Context, model nn.Module, loader *data.Loader) (Accuracy, error) {
	if loader == nil {
		return Accuracy{}, nil
	}
	defer t.Stats.Track(&t.Stats.EvalTime)()
	correct, total, err := Evaluate(ctx, model, loader)
	if err != nil {
		return Accuracy{}, err
	}
	return newAccuracy(correct, total), nil
}

// TrainOneEpoch runs one pass over loader in Train mode and returns the mean
// batch loss. Cancellation is checked between batches.
func (t *Trainer) TrainOneEpoch(ctx context.Context, model nn.Module, loader *data.Loader, opt *nn.SGD, lr float64) (float64, error) {
	var (
		criterion nn.CrossEntropyLoss
		running   float64
		batches   int
	)
	stopLoad := t.Stats.Track(&t.Stats.DataLoadingTime)
	it := loader.Iter()
	for it.Next() {
		stopLoad()
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b := it.Batch()

		opt.ZeroGrad()
		stopFwd := t.Stats.Track(&t.Stats.ForwardPassTime)
		out, err := model.Forward(b.Images, layers.Train)
		if err != nil {
			return 0, err
		}
		loss, err := criterion.Forward(out, b.Labels)
		stopFwd()
		if err != nil {
			return 0, err
		}

		stopBwd := t.Stats.Track(&t.Stats.BackwardPassTime)
		grad, err := criterion.Backward()
		if err != nil {
			return 0, err
		}
		if _, err := model.Backward(grad); err != nil {
			return 0, err
		}
		stopBwd()

		stopUpd := t.Stats.Track(&t.Stats.UpdateTime)
		opt.Step(lr)
		stopUpd()

		running += loss
		batches++
		stopLoad = t.Stats.Track(&t.Stats.DataLoadingTime)
	}
	stopLoad()
	if batches == 0 {
		return 0, fmt.Errorf("empty training set")
	}
	return running / float64(batches), nil
}

// Evaluate counts top-1 hits over loader in Eval mode.
func Evaluate(ctx context.Context, model nn.Module, loader *data.Loader) (correct, total int, err error) {
	it := loader.Iter()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		b := it.Batch()
		out, err := model.Forward(b.Images, layers.Eval)
		if err != nil {
			return 0, 0, err
		}
		pred, err := tensor.ArgMax(out)
		if err != nil {
			return 0, 0, err
		}
		for i, p := range pred {
			if p == b.Labels[i] {
				correct++
			}
		}
		total += len(pred)
	}
	return correct, total, nil
}
