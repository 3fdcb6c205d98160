package efficientnet

import "time"

type config struct {
	survivalProb float64
	reduction    int
	seed         uint64
}

func defaultConfig() config {
	return config{
		survivalProb: DefaultSurvivalProb,
		reduction:    DefaultReduction,
		seed:         uint64(time.Now().UnixNano()),
	}
}

// Option configures New.
type Option func(*config)

// WithSurvivalProb sets the stochastic depth keep probability of every residual block.
func WithSurvivalProb(p float64) Option {
	return func(c *config) { c.survivalProb = p }
}

// WithReduction sets the squeeze-excitation channel divisor.
func WithReduction(r int) Option {
	return func(c *config) { c.reduction = r }
}

// WithSeed makes parameter initialisation and all stochastic draws reproducible.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

func (c config) validate() error {
	if c.survivalProb <= 0 || c.survivalProb > 1 {
		return &ConfigError{Field: "survival probability", Value: c.survivalProb, Message: "must be in (0,1]"}
	}
	if c.reduction <= 0 {
		return &ConfigError{Field: "reduction", Value: c.reduction, Message: "must be positive"}
	}
	return nil
}
