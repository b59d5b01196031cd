// Package config loads the medvol YAML configuration and maps it onto reader
// and logger options.
package config

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/medvol/internal/errors"
	"github.com/mrsinham/medvol/internal/logger"
	"github.com/mrsinham/medvol/internal/normalize"
	"github.com/mrsinham/medvol/internal/reader"
	"github.com/mrsinham/medvol/internal/volume"
)

// Config is the medvol configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	} `yaml:"log"`

	Series struct {
		// StrictDuplicates rejects directories where two slices share a position.
		StrictDuplicates bool `yaml:"strict_duplicates"`
		Workers          int  `yaml:"workers" validate:"gte=0"`
	} `yaml:"series"`

	Classifier struct {
		MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	} `yaml:"classifier"`

	Resample struct {
		Enabled       bool      `yaml:"enabled"`
		Spacing       []float64 `yaml:"spacing" validate:"omitempty,min=1,max=3,dive,gt=0"`
		Interpolation string    `yaml:"interpolation" validate:"omitempty,oneof=linear nearest"`
	} `yaml:"resample"`

	Normalization struct {
		// Kind is checked by the normalizer so that unknown kinds keep their own error code.
		Kind           string  `yaml:"kind"`
		LowPercentile  float64 `yaml:"low_percentile" validate:"gte=0,lte=100"`
		HighPercentile float64 `yaml:"high_percentile" validate:"gte=0,lte=100"`
	} `yaml:"normalization"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.Log.Format = logger.FormatText
	cfg.Resample.Enabled = true
	cfg.Resample.Spacing = []float64{1, 1, 1}
	cfg.Resample.Interpolation = volume.Linear.String()
	cfg.Normalization.LowPercentile = normalize.DefaultLowPercentile
	cfg.Normalization.HighPercentile = normalize.DefaultHighPercentile
	return cfg
}

// Load reads path over the defaults. A missing file, or an empty path, yields
// the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.InvalidInputf("parse config file %s", path).WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks field ranges, then the normalization settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatError(err)
	}
	if n := c.NormalizationOptions(); n != nil {
		return n.Validate()
	}
	return nil
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig(w io.Writer) logger.Config {
	return logger.Config{Writer: w, Level: c.Log.Level, Format: c.Log.Format}
}

// ReaderOptions returns the reader options described by c.
func (c *Config) ReaderOptions() (reader.Options, error) {
	mode, err := volume.ParseInterpolation(c.Resample.Interpolation)
	if err != nil {
		return reader.Options{}, err
	}
	return reader.Options{
		Resample:         c.Resample.Enabled,
		Spacing:          append([]float64(nil), c.Resample.Spacing...),
		Interpolation:    mode,
		MinConfidence:    c.Classifier.MinConfidence,
		StrictDuplicates: c.Series.StrictDuplicates,
		Workers:          c.Series.Workers,
	}, nil
}

// NormalizationOptions returns nil when no kind is configured.
func (c *Config) NormalizationOptions() *normalize.Options {
	if c.Normalization.Kind == "" {
		return nil
	}
	return &normalize.Options{
		Kind:           normalize.Kind(c.Normalization.Kind),
		LowPercentile:  c.Normalization.LowPercentile,
		HighPercentile: c.Normalization.HighPercentile,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// formatError turns validator errors into an INVALID_INPUT error whose details
// map each namespaced field to a message.
func formatError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		// Drop the root type name from "Config.series.workers".
		_, ns, _ := strings.Cut(e.Namespace(), ".")
		fields[ns] = friendlyMessage(e)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return errors.InvalidInputf("invalid configuration: %s", strings.Join(keys, ", ")).WithDetails(fields)
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "min":
		return "must have at least " + e.Param() + " values"
	case "max":
		return "must have at most " + e.Param() + " values"
	default:
		return "is invalid"
	}
}
