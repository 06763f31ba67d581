package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/domain/gateways"
)

const envPrefix = "PACKFLOW"

// Config is the process configuration read from file and PACKFLOW_* environment variables
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	ERP      ERPConfig      `mapstructure:"erp"`
	Log      LogConfig      `mapstructure:"log"`
	Settings SettingsConfig `mapstructure:"settings"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	// Driver is memory or postgres
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SweepConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type ERPConfig struct {
	SeedDir string `mapstructure:"seed_dir"`
}

type LogConfig struct {
	Environment string `mapstructure:"environment"`
	Level       string `mapstructure:"level"`
}

type BarcodeConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Suffix      string `mapstructure:"suffix"`
	StartNumber int64  `mapstructure:"start_number"`
	Length      int    `mapstructure:"length"`
}

type SettingsConfig struct {
	PackagesEnabled           bool          `mapstructure:"packages_enabled"`
	TargetDistributionEnabled bool          `mapstructure:"target_distribution_enabled"`
	Barcode                   BarcodeConfig `mapstructure:"barcode"`
	CancellationBin           string        `mapstructure:"cancellation_bin"`
	FallbackSourcePreference  []string      `mapstructure:"fallback_source_preference"`
	MetadataFields            []FieldConfig `mapstructure:"metadata_fields"`
}

// FieldConfig declares one package metadata field
type FieldConfig struct {
	ID       string `mapstructure:"id"`
	Type     string `mapstructure:"type"`
	Required bool   `mapstructure:"required"`
	ReadOnly bool   `mapstructure:"read_only"`
}

// Load reads configuration from path (optional) and the environment
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("sweep.schedule", "@every 1m")
	v.SetDefault("log.environment", "production")
	v.SetDefault("settings.packages_enabled", true)
	v.SetDefault("settings.target_distribution_enabled", true)
	v.SetDefault("settings.barcode.prefix", "PK")
	v.SetDefault("settings.barcode.start_number", 1)
	v.SetDefault("settings.barcode.length", 8)
	v.SetDefault("settings.cancellation_bin", "CANCEL")
}

// Validate rejects configurations the services cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	if c.Settings.Barcode.Length <= 0 {
		return fmt.Errorf("invalid settings.barcode.length %d", c.Settings.Barcode.Length)
	}
	if c.Settings.CancellationBin == "" {
		return errors.New("settings.cancellation_bin is required")
	}
	if _, err := c.MetadataSchema(); err != nil {
		return err
	}
	return nil
}

// MetadataSchema converts the declared metadata fields to field definitions
func (c *Config) MetadataSchema() ([]entities.FieldDefinition, error) {
	schema := make([]entities.FieldDefinition, 0, len(c.Settings.MetadataFields))
	for _, f := range c.Settings.MetadataFields {
		var fieldType entities.FieldType
		switch strings.ToLower(f.Type) {
		case "", "string":
			fieldType = entities.FieldString
		case "decimal":
			fieldType = entities.FieldDecimal
		case "date":
			fieldType = entities.FieldDate
		default:
			return nil, fmt.Errorf("metadata field %q has unknown type %q", f.ID, f.Type)
		}
		schema = append(schema, entities.FieldDefinition{
			ID:       f.ID,
			Type:     fieldType,
			Required: f.Required,
			ReadOnly: f.ReadOnly,
		})
	}
	return schema, nil
}

// DomainSettings converts the settings section to the domain representation
func (c *Config) DomainSettings() entities.Settings {
	s := c.Settings
	return entities.Settings{
		PackagesEnabled:           s.PackagesEnabled,
		TargetDistributionEnabled: s.TargetDistributionEnabled,
		Barcode: entities.BarcodeFormat{
			Prefix:      s.Barcode.Prefix,
			Suffix:      s.Barcode.Suffix,
			StartNumber: s.Barcode.StartNumber,
			Length:      s.Barcode.Length,
		},
		CancellationBin:          s.CancellationBin,
		FallbackSourcePreference: append([]string(nil), s.FallbackSourcePreference...),
	}
}

// StaticSettings serves a fixed settings value that can be swapped at runtime
type StaticSettings struct {
	mu       sync.RWMutex
	settings entities.Settings
}

var _ gateways.SettingsProvider = (*StaticSettings)(nil)

func NewStaticSettings(settings entities.Settings) *StaticSettings {
	return &StaticSettings{settings: settings}
}

func (s *StaticSettings) Settings(context.Context) (entities.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// Update replaces the settings with the result of fn
func (s *StaticSettings) Update(fn func(*entities.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
}
