package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/popdownscale/internal/calibrate"
	"github.com/sells-group/popdownscale/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Model       ModelConfig       `yaml:"model" mapstructure:"model"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Projection  ProjectionConfig  `yaml:"projection" mapstructure:"projection"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// Reference strategies for the template's reference cell.
const (
	ReferenceFirst    = "first"
	ReferenceCentroid = "centroid"
)

// ModelConfig configures the neighbourhood template and the redistribution.
type ModelConfig struct {
	// Cutoff is the neighbourhood radius in map units (metres).
	Cutoff    float64 `yaml:"cutoff" mapstructure:"cutoff"`
	Reference string  `yaml:"reference" mapstructure:"reference"`
	// Workers <= 0 means one less than the CPU count.
	Workers                 int `yaml:"workers" mapstructure:"workers"`
	BatchSize               int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxCorrectionIterations int `yaml:"max_correction_iterations" mapstructure:"max_correction_iterations"`
}

// AxisConfig is an evenly spaced search axis.
type AxisConfig struct {
	Min float64 `yaml:"min" mapstructure:"min"`
	Max float64 `yaml:"max" mapstructure:"max"`
	N   int     `yaml:"n" mapstructure:"n"`
}

// Values returns the axis points.
func (a AxisConfig) Values() []float64 {
	return calibrate.Linspace(a.Min, a.Max, a.N)
}

// CalibrationConfig configures both calibration phases and the parameter
// table a calibration writes.
type CalibrationConfig struct {
	Alpha              AxisConfig       `yaml:"alpha" mapstructure:"alpha"`
	Beta               AxisConfig       `yaml:"beta" mapstructure:"beta"`
	Bounds             calibrate.Bounds `yaml:"bounds" mapstructure:"bounds"`
	Method             string           `yaml:"method" mapstructure:"method"`
	Step               float64          `yaml:"step" mapstructure:"step"`
	Tolerance          float64          `yaml:"tolerance" mapstructure:"tolerance"`
	ConvergeIterations int              `yaml:"converge_iterations" mapstructure:"converge_iterations"`
	MaxIterations      int              `yaml:"max_iterations" mapstructure:"max_iterations"`
	Scenario           string           `yaml:"scenario" mapstructure:"scenario"`
	FirstYear          int              `yaml:"first_year" mapstructure:"first_year"`
	LastYear           int              `yaml:"last_year" mapstructure:"last_year"`
	YearStep           int              `yaml:"year_step" mapstructure:"year_step"`
	OutputDir          string           `yaml:"output_dir" mapstructure:"output_dir"`
}

// SearchGrid returns the first-phase grid.
func (c CalibrationConfig) SearchGrid() calibrate.SearchGrid {
	return calibrate.SearchGrid{Alpha: c.Alpha.Values(), Beta: c.Beta.Values()}
}

// Refiner returns the second-phase refiner.
func (c CalibrationConfig) Refiner() *calibrate.BoundedRefiner {
	r := calibrate.NewBoundedRefiner()
	r.Bounds = c.Bounds
	if c.Method != "" {
		r.Method = c.Method
	}
	if c.Step > 0 {
		r.Step = c.Step
	}
	if c.Tolerance > 0 {
		r.Tolerance = c.Tolerance
	}
	if c.ConvergeIterations > 0 {
		r.ConvergeIterations = c.ConvergeIterations
	}
	if c.MaxIterations > 0 {
		r.MaxIterations = c.MaxIterations
	}
	return r
}

// ProjectionConfig configures the decade chain.
type ProjectionConfig struct {
	Scenario  string `yaml:"scenario" mapstructure:"scenario"`
	EndYear   int    `yaml:"end_year" mapstructure:"end_year"`
	Step      int    `yaml:"step" mapstructure:"step"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	// Charset decodes non-UTF-8 aggregate CSVs (an HTML encoding label).
	Charset string `yaml:"charset" mapstructure:"charset"`
	Sheet   string `yaml:"sheet" mapstructure:"sheet"`
}

// FetchConfig configures remote input resolution.
type FetchConfig struct {
	CacheDir    string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POPDOWNSCALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	bounds := calibrate.DefaultBounds()
	refiner := calibrate.NewBoundedRefiner()

	v.SetDefault("model.cutoff", 25000.0)
	v.SetDefault("model.reference", ReferenceFirst)
	v.SetDefault("model.workers", 0)
	v.SetDefault("model.batch_size", 8192)
	v.SetDefault("model.max_correction_iterations", 1000)

	v.SetDefault("calibration.alpha.min", -1.0)
	v.SetDefault("calibration.alpha.max", 1.0)
	v.SetDefault("calibration.alpha.n", 10)
	v.SetDefault("calibration.beta.min", 0.0)
	v.SetDefault("calibration.beta.max", 1.0)
	v.SetDefault("calibration.beta.n", 5)
	v.SetDefault("calibration.bounds.alpha_min", bounds.AlphaMin)
	v.SetDefault("calibration.bounds.alpha_max", bounds.AlphaMax)
	v.SetDefault("calibration.bounds.beta_min", bounds.BetaMin)
	v.SetDefault("calibration.bounds.beta_max", bounds.BetaMax)
	v.SetDefault("calibration.method", refiner.Method)
	v.SetDefault("calibration.step", refiner.Step)
	v.SetDefault("calibration.tolerance", refiner.Tolerance)
	v.SetDefault("calibration.converge_iterations", refiner.ConvergeIterations)
	v.SetDefault("calibration.max_iterations", refiner.MaxIterations)
	v.SetDefault("calibration.scenario", "SSP2")
	v.SetDefault("calibration.first_year", 2020)
	v.SetDefault("calibration.last_year", 2100)
	v.SetDefault("calibration.year_step", 10)
	v.SetDefault("calibration.output_dir", "outputs/calibration")

	v.SetDefault("projection.scenario", "SSP2")
	v.SetDefault("projection.end_year", 2100)
	v.SetDefault("projection.step", 10)
	v.SetDefault("projection.output_dir", "outputs/projection")

	v.SetDefault("fetch.cache_dir", ".cache/popdownscale")
	v.SetDefault("fetch.user_agent", "popdownscale/1.0")
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_host", 5.0)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "popdownscale.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the settings a command mode depends on. Modes are
// "calibrate", "project" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "calibrate", "project":
		if c.Model.Cutoff <= 0 {
			errs = append(errs, "model.cutoff must be > 0")
		}
		if c.Model.Reference != ReferenceFirst && c.Model.Reference != ReferenceCentroid {
			errs = append(errs, "model.reference must be \"first\" or \"centroid\"")
		}
		if c.Model.MaxCorrectionIterations <= 0 {
			errs = append(errs, "model.max_correction_iterations must be > 0")
		}
		if mode == "calibrate" {
			errs = append(errs, c.Calibration.validate()...)
		} else if c.Projection.Step <= 0 {
			errs = append(errs, "projection.step must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "":
	default:
		errs = append(errs, "store.driver must be \"sqlite\" or \"postgres\"")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c CalibrationConfig) validate() []string {
	var errs []string
	if c.Alpha.N <= 0 || c.Beta.N <= 0 {
		errs = append(errs, "calibration.alpha.n and calibration.beta.n must be > 0")
	}
	if err := c.Bounds.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.YearStep <= 0 || c.LastYear < c.FirstYear {
		errs = append(errs, "calibration years must satisfy first_year <= last_year and year_step > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
