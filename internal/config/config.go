package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/viper"
)

// Config holds all configuration for the guesscast CLI
type Config struct {
	Convert ConvertConfig
	Cast    CastConfig
	Output  OutputConfig
	Log     LogConfig
}

type ConvertConfig struct {
	Input   string   // Input file: .parquet, or .arrow/.arrows for IPC streams
	Output  string   // Output file; format chosen by extension like the input
	Columns []string // Columns to cast to the target timestamp type
	Workers int      // Max concurrent column casts per batch (default: NumCPU)
}

type CastConfig struct {
	Unit            string // Target unit: second, millisecond, microsecond, nanosecond
	Timezone        string // Target timezone, empty for a naive timestamp
	Safe            bool   // Reject lossy conversions instead of allowing them
	GuessPrecision  bool   // Guess source unit from value magnitude
	UseTimezoneAsIs bool   // Carry the target timezone through the intermediate cast
	BoundYears      int64  // Guessing bound in years
}

type OutputConfig struct {
	Compression     string // Parquet compression: snappy, gzip, zstd, none
	UseDictionary   bool   // Use dictionary encoding
	WriteStatistics bool   // Write Parquet statistics
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment and config file. A non-empty
// path selects an explicit config file; otherwise the usual search paths
// apply and a missing file just means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("GUESSCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The bound was an env knob in the original arrow-cast crates; honor the
	// same variable so existing deployments keep working.
	v.BindEnv("cast.bound_years", "GUESSCAST_CAST_BOUND_YEARS", "ARROW_CAST_GUESSING_BOUND_YEARS")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// Config file (optional)
		v.SetConfigName("guesscast")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/guesscast/")
		v.AddConfigPath("$HOME/.guesscast/")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Config file not found is OK, use defaults
		}
	}

	cfg := &Config{
		Convert: ConvertConfig{
			Input:   v.GetString("convert.input"),
			Output:  v.GetString("convert.output"),
			Columns: v.GetStringSlice("convert.columns"),
			Workers: v.GetInt("convert.workers"),
		},
		Cast: CastConfig{
			Unit:            v.GetString("cast.unit"),
			Timezone:        v.GetString("cast.timezone"),
			Safe:            v.GetBool("cast.safe"),
			GuessPrecision:  v.GetBool("cast.guess_precision"),
			UseTimezoneAsIs: v.GetBool("cast.use_timezone_as_is"),
			BoundYears:      v.GetInt64("cast.bound_years"),
		},
		Output: OutputConfig{
			Compression:     v.GetString("output.compression"),
			UseDictionary:   v.GetBool("output.use_dictionary"),
			WriteStatistics: v.GetBool("output.write_statistics"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("convert.input", "")
	v.SetDefault("convert.output", "")
	v.SetDefault("convert.columns", []string{})
	v.SetDefault("convert.workers", runtime.NumCPU())

	v.SetDefault("cast.unit", "nanosecond")
	v.SetDefault("cast.timezone", "")
	v.SetDefault("cast.safe", true)
	v.SetDefault("cast.guess_precision", true)
	v.SetDefault("cast.use_timezone_as_is", true)
	v.SetDefault("cast.bound_years", 1000)

	v.SetDefault("output.compression", "snappy")
	v.SetDefault("output.use_dictionary", true)
	v.SetDefault("output.write_statistics", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks the loaded configuration for values that can only fail at
// conversion time otherwise.
func (c *Config) Validate() error {
	if c.Convert.Input == "" {
		return fmt.Errorf("convert.input is required")
	}
	if c.Convert.Output == "" {
		return fmt.Errorf("convert.output is required")
	}
	if len(c.Convert.Columns) == 0 {
		return fmt.Errorf("convert.columns must name at least one column")
	}
	if c.Convert.Workers < 1 {
		return fmt.Errorf("convert.workers must be at least 1, got %d", c.Convert.Workers)
	}
	if _, err := c.Cast.TimeUnit(); err != nil {
		return err
	}
	switch strings.ToLower(c.Output.Compression) {
	case "snappy", "gzip", "zstd", "none", "uncompressed":
	default:
		return fmt.Errorf("unsupported output.compression: %s", c.Output.Compression)
	}
	if c.Cast.BoundYears < 1 {
		return fmt.Errorf("cast.bound_years must be at least 1, got %d", c.Cast.BoundYears)
	}
	return nil
}

// TimeUnit parses the configured target unit name.
func (c *CastConfig) TimeUnit() (arrow.TimeUnit, error) {
	switch strings.ToLower(c.Unit) {
	case "s", "second", "seconds":
		return arrow.Second, nil
	case "ms", "millisecond", "milliseconds":
		return arrow.Millisecond, nil
	case "us", "µs", "microsecond", "microseconds":
		return arrow.Microsecond, nil
	case "ns", "nanosecond", "nanoseconds":
		return arrow.Nanosecond, nil
	default:
		return arrow.Second, fmt.Errorf("unsupported cast.unit: %s", c.Unit)
	}
}

// TargetType builds the timestamp type the configured columns are cast to.
func (c *CastConfig) TargetType() (*arrow.TimestampType, error) {
	unit, err := c.TimeUnit()
	if err != nil {
		return nil, err
	}
	return &arrow.TimestampType{Unit: unit, TimeZone: c.Timezone}, nil
}
