package utils

import (
	"errors"
	"fmt"
	"strings"

	"effnet/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EFFNET_BATCH_SIZE.
const EnvPrefix = "EFFNET"

// Config holds experiment configuration shared by the command-line tools.
type Config struct {
	// Model
	Version      string  `mapstructure:"version" yaml:"version"`
	NumClasses   int     `mapstructure:"num_classes" yaml:"num_classes"`
	SurvivalProb float64 `mapstructure:"survival_prob" yaml:"survival_prob"`
	Seed         uint64  `mapstructure:"seed" yaml:"seed"`

	// Data
	DataRoot  string `mapstructure:"data_root" yaml:"data_root"`
	ValSize   int    `mapstructure:"val_size" yaml:"val_size"`
	Synthetic int    `mapstructure:"synthetic" yaml:"synthetic"` // >0 replaces CIFAR-100 with n random images
	ImageSize int    `mapstructure:"image_size" yaml:"image_size"`

	// Training grid
	BatchSize     int       `mapstructure:"batch_size" yaml:"batch_size"`
	Epochs        int       `mapstructure:"epochs" yaml:"epochs"`
	SaveEvery     int       `mapstructure:"save_every" yaml:"save_every"`
	LearningRates []float64 `mapstructure:"learning_rates" yaml:"learning_rates"`
	WeightDecays  []float64 `mapstructure:"weight_decays" yaml:"weight_decays"`
	Momentum      float64   `mapstructure:"momentum" yaml:"momentum"`
	Milestones    []int     `mapstructure:"milestones" yaml:"milestones"`
	Gamma         float64   `mapstructure:"gamma" yaml:"gamma"`
	OutputDir     string    `mapstructure:"output_dir" yaml:"output_dir"`

	// Split inference
	LogN int    `mapstructure:"log_n" yaml:"log_n"`
	Addr string `mapstructure:"addr" yaml:"addr"`

	Log logging.Config `mapstructure:"log" yaml:"log"`

	// ConfigFile is the file the values were read from, empty if none.
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

var defaults = map[string]any{
	"version":        "b0",
	"num_classes":    100,
	"survival_prob":  0.8,
	"seed":           0,
	"data_root":      "./data/cifar-100-binary",
	"val_size":       5000,
	"synthetic":      0,
	"image_size":     32,
	"batch_size":     128,
	"epochs":         120,
	"save_every":     10,
	"learning_rates": []float64{0.1, 0.01},
	"weight_decays":  []float64{5e-4},
	"momentum":       0.9,
	"milestones":     []int{40, 80},
	"gamma":          0.1,
	"output_dir":     "./checkpoints",
	"log_n":          13,
	"addr":           "127.0.0.1:7070",
	"log.level":      "info",
	"log.format":     "auto",
	"log.output":     "stderr",
	"log.no_color":   false,
	"log.caller":     false,
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig loads configuration in order of precedence:
// 1. Flags that were set explicitly, matched to keys by name with '-' as '_'
// 2. Environment variables (EFFNET_*, including those from .env files)
// 3. Config file (path, or ./effnet.yaml when path is empty)
// 4. Defaults
func LoadConfig(path string, flags ...*pflag.FlagSet) (*Config, error) {
	loadEnvFiles()

	v := newViper()
	for _, fs := range flags {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("effnet")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, known := defaults[key]; !known || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// loadEnvFiles loads environment variables from .env files.
// Variables already set in the environment win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// ValidateConfig validates training configuration
func ValidateConfig(config *Config) error {
	if config.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be positive")
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if config.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}
	if config.SaveEvery <= 0 {
		return fmt.Errorf("save_every must be positive")
	}
	if len(config.LearningRates) == 0 || len(config.WeightDecays) == 0 {
		return fmt.Errorf("need at least one learning rate and one weight decay")
	}
	for _, lr := range config.LearningRates {
		if lr <= 0 {
			return fmt.Errorf("learning rate %v must be positive", lr)
		}
	}
	for _, wd := range config.WeightDecays {
		if wd < 0 {
			return fmt.Errorf("weight decay %v must be non-negative", wd)
		}
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0,1)")
	}
	if config.SurvivalProb <= 0 || config.SurvivalProb > 1 {
		return fmt.Errorf("survival_prob must be in (0,1]")
	}
	if config.ValSize < 0 {
		return fmt.Errorf("val_size must be non-negative")
	}
	if config.ImageSize < 8 {
		return fmt.Errorf("image_size must be at least 8")
	}
	return nil
}
