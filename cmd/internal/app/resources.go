package app

import (
	"fmt"

	"effnet/data"
	"effnet/nn/efficientnet"
	"effnet/trainer"
	"effnet/utils"
)

// Splits are the three loaders a grid run needs.
type Splits struct {
	Train, Test, Val *data.Loader
}

// LoadSplits opens CIFAR-100 under cfg.DataRoot, or generates a synthetic
// set when cfg.Synthetic > 0. The test split is divided into ValSize
// validation images and the remaining test images.
func LoadSplits(cfg *utils.Config) (*Splits, error) {
	train, test, err := datasets(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ValSize > test.Len() {
		return nil, fmt.Errorf("val_size %d exceeds %d test images", cfg.ValSize, test.Len())
	}
	parts, err := data.RandomSplit(test, []int{cfg.ValSize, test.Len() - cfg.ValSize}, cfg.Seed)
	if err != nil {
		return nil, err
	}

	s := &Splits{}
	if s.Train, err = data.NewLoader(train, cfg.BatchSize, data.WithShuffle(cfg.Seed)); err != nil {
		return nil, err
	}
	if s.Val, err = data.NewLoader(parts[0], cfg.BatchSize); err != nil {
		return nil, err
	}
	if s.Test, err = data.NewLoader(parts[1], cfg.BatchSize); err != nil {
		return nil, err
	}
	return s, nil
}

func datasets(cfg *utils.Config) (train, test *data.Dataset, err error) {
	if cfg.Synthetic > 0 {
		all, err := data.Synthetic(2*cfg.Synthetic, cfg.NumClasses, cfg.ImageSize, cfg.ImageSize, cfg.Seed)
		if err != nil {
			return nil, nil, err
		}
		// one draw so both halves share the class means
		halves, err := data.RandomSplit(all, []int{cfg.Synthetic, cfg.Synthetic}, cfg.Seed)
		if err != nil {
			return nil, nil, err
		}
		return halves[0], halves[1], nil
	}
	if train, err = data.LoadCIFAR100(cfg.DataRoot, data.Train); err != nil {
		return nil, nil, err
	}
	if test, err = data.LoadCIFAR100(cfg.DataRoot, data.Test); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// BuildModel creates the network described by cfg.
func BuildModel(cfg *utils.Config) (*efficientnet.EfficientNet, error) {
	return efficientnet.New(cfg.Version, cfg.NumClasses,
		efficientnet.WithSeed(cfg.Seed),
		efficientnet.WithSurvivalProb(cfg.SurvivalProb))
}

// LoadModel builds the network described by cfg and restores a checkpoint into it.
func LoadModel(cfg *utils.Config, checkpoint string) (*efficientnet.EfficientNet, error) {
	m, err := BuildModel(cfg)
	if err != nil {
		return nil, err
	}
	if err := trainer.LoadCheckpoint(checkpoint, m); err != nil {
		return nil, err
	}
	return m, nil
}
