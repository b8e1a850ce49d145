// Package config holds the run configuration, loaded through viper from a
// YAML file, TRADUTOR_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/tradutor/internal/generator"
	"github.com/valpere/tradutor/internal/retry"
	"github.com/valpere/tradutor/internal/validator"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "TRADUTOR"

// Stage configures the generator of one pipeline stage.
type Stage struct {
	Backend        string   `mapstructure:"backend"`
	Model          string   `mapstructure:"model"`
	FallbackModels []string `mapstructure:"fallback_models"`
	BaseURL        string   `mapstructure:"base_url"`
	Temperature    float64  `mapstructure:"temperature"`
	NumPredict     int      `mapstructure:"num_predict"`
	NumCtx         int      `mapstructure:"num_ctx"`
	RepeatPenalty  float64  `mapstructure:"repeat_penalty"`
	ChunkChars     int      `mapstructure:"chunk_chars"`
	RateLimit      float64  `mapstructure:"rate_limit"`
}

type Config struct {
	Translate  Stage `mapstructure:"translate"`
	Refine     Stage `mapstructure:"refine"`
	Desquebrar Stage `mapstructure:"desquebrar"`

	OllamaURL      string        `mapstructure:"ollama_url"`
	KeepAlive      string        `mapstructure:"keep_alive"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	Guardrails          string  `mapstructure:"guardrails"`
	TranslateMaxRatio   float64 `mapstructure:"translate_max_ratio"`
	FailOnChunkError    bool    `mapstructure:"fail_on_chunk_error"`
	Workers             int     `mapstructure:"workers"`
	SplitBySections     bool    `mapstructure:"split_by_sections"`
	CleanupBeforeRefine bool    `mapstructure:"cleanup_before_refine"`
	PostprocessVersion  string  `mapstructure:"postprocess_version"`

	SourceLang string `mapstructure:"source_lang"`
	TargetLang string `mapstructure:"target_lang"`

	CacheDir  string `mapstructure:"cache_dir"`
	DBPath    string `mapstructure:"db_path"`
	OutputDir string `mapstructure:"output_dir"`

	DebugRun             bool   `mapstructure:"debug_run"`
	DebugMaxChunks       int    `mapstructure:"debug_max_chunks"`
	DebugMaxCharsPerFile int    `mapstructure:"debug_max_chars_per_file"`
	MetricsFile          string `mapstructure:"metrics_file"`

	Log Log `mapstructure:"log"`
}

type Log struct {
	Level string `mapstructure:"level"`
	Style string `mapstructure:"style"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Translate: Stage{
			Backend:     "ollama",
			Model:       "qwen3:14b-q4_K_M",
			Temperature: 0.15,
			ChunkChars:  3800,
		},
		Refine: Stage{
			Backend:     "ollama",
			Model:       "gemma3-gaia-ptbr-4b:q4_k_m",
			Temperature: 0.30,
			ChunkChars:  10000,
		},
		Desquebrar: Stage{
			Backend:       "ollama",
			Model:         "qwen3:14b-q4_K_M",
			Temperature:   0.0,
			NumPredict:    1024,
			RepeatPenalty: 1.05,
			ChunkChars:    2400,
		},
		OllamaURL:           generator.DefaultOllamaURL,
		KeepAlive:           "30m",
		MaxRetries:          3,
		InitialBackoff:      1500 * time.Millisecond,
		BackoffFactor:       1.8,
		RequestTimeout:      120 * time.Second,
		Guardrails:          string(validator.Strict),
		TranslateMaxRatio:   2.0,
		Workers:             1,
		SplitBySections:     true,
		CleanupBeforeRefine: true,
		PostprocessVersion:  "v3",
		SourceLang:          "en",
		TargetLang:          "pt",
		CacheDir:            "saida/cache",
		DBPath:              "saida/tradutor.db",
		OutputDir:           "saida",
		Log:                 Log{Level: "info", Style: "terminal"},
	}
}

// NewViper returns a viper instance carrying every default and reading
// TRADUTOR_* variables, with dots in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every field of cfg as a viper default. Registering
// the keys also lets Unmarshal see values that only exist in the
// environment.
func SetDefaults(v *viper.Viper, cfg Config) {
	setDefaults(v, "", reflect.ValueOf(cfg))
}

func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var knownBackends = map[string]bool{
	"ollama":                     true,
	generator.ProviderOpenAI:     true,
	generator.ProviderOpenRouter: true,
	generator.ProviderGemini:     true,
}

// Validate rejects configurations no pipeline can run with.
func (c Config) Validate() error {
	var errs []error
	for name, st := range c.stages() {
		if st.ChunkChars <= 0 {
			errs = append(errs, fmt.Errorf("%s.chunk_chars must be positive, got %d", name, st.ChunkChars))
		}
		if !knownBackends[strings.ToLower(st.Backend)] {
			errs = append(errs, fmt.Errorf("%s.backend: unknown backend %q", name, st.Backend))
		}
		if st.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", name))
		}
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if _, err := validator.ParseLevel(c.Guardrails); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.TranslateMaxRatio <= 0 {
		errs = append(errs, fmt.Errorf("translate_max_ratio must be positive, got %g", c.TranslateMaxRatio))
	}
	return errors.Join(errs...)
}

func (c Config) stages() map[string]Stage {
	return map[string]Stage{
		"translate":  c.Translate,
		"refine":     c.Refine,
		"desquebrar": c.Desquebrar,
	}
}

// Stage returns the settings of the stage called name.
func (c Config) Stage(name string) (Stage, bool) {
	st, ok := c.stages()[name]
	return st, ok
}

// Level is the parsed guardrail strictness.
func (c Config) Level() validator.Level {
	level, err := validator.ParseLevel(c.Guardrails)
	if err != nil {
		return validator.Strict
	}
	return level
}

// Policy is the retry policy shared by every stage.
func (c Config) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		Factor:         c.BackoffFactor,
		RetryOnReject:  true,
	}
}

// Generator builds the generator config of st for model. An empty model
// means the stage's primary model.
func (c Config) Generator(st Stage, model string) generator.Config {
	if model == "" {
		model = st.Model
	}
	baseURL := st.BaseURL
	if baseURL == "" && strings.EqualFold(st.Backend, "ollama") {
		baseURL = c.OllamaURL
	}
	return generator.Config{
		Backend: st.Backend,
		Model:   model,
		BaseURL: baseURL,
		Options: generator.Options{
			Temperature:   st.Temperature,
			NumPredict:    st.NumPredict,
			NumCtx:        st.NumCtx,
			RepeatPenalty: st.RepeatPenalty,
			KeepAlive:     c.KeepAlive,
			Timeout:       c.RequestTimeout,
		},
		RateLimit: st.RateLimit,
	}
}

// Generators builds the primary generator of st followed by one per
// fallback model.
func (c Config) Generators(st Stage) ([]generator.Generator, error) {
	models := append([]string{st.Model}, st.FallbackModels...)
	gens := make([]generator.Generator, 0, len(models))
	for _, m := range models {
		g, err := generator.New(c.Generator(st, m))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m, err)
		}
		gens = append(gens, g)
	}
	return gens, nil
}
