package trainer

import (
	"fmt"

	"effnet/nn"
	"effnet/utils"
)

// SaveCheckpoint writes every parameter and buffer of model.
func SaveCheckpoint(path string, model nn.Module, numClasses, epoch int) error {
	state := utils.StateDict(model.Tag(), numClasses, epoch, model.Params())
	if err := utils.SaveWeights(path, state); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint restores model from path. The checkpoint must come from a
// model with the same tag.
func LoadCheckpoint(path string, model nn.Module) error {
	state, err := utils.LoadWeights(path)
	if err != nil {
		return err
	}
	if state.Model != model.Tag() {
		return fmt.Errorf("checkpoint %s is for %q, not %q", path, state.Model, model.Tag())
	}
	if err := utils.LoadStateDict(state, model.Params()); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
