// Package conf loads and exposes the engine configuration.
// Strip definitions themselves are supplied by the caller at engine start;
// this package only covers engine tunables (polling budgets, plugin paths,
// metering parameters, logging).
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/stripdeck/stripdeck/internal/errors"
)

// LogConfig controls the rotating engine log file.
type LogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"maxsize"` // megabytes
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAge     int    `mapstructure:"maxage"` // days
}

// MainSettings holds application-wide options.
type MainSettings struct {
	Name string    `mapstructure:"name"`
	Log  LogConfig `mapstructure:"log"`
}

// EngineSettings holds node and link management tunables.
type EngineSettings struct {
	Signature       string `mapstructure:"signature"`       // naming signature for nodes this engine owns
	NodePollRetries int    `mapstructure:"nodepollretries"` // node-appearance poll budget
	NodePollDelayMs int    `mapstructure:"nodepolldelayms"`
	ZombieSettleMs  int    `mapstructure:"zombiesettlems"` // delay after zombie destruction
	CommandTimeoutS int    `mapstructure:"commandtimeouts"`
	SnapshotCacheMs int    `mapstructure:"snapshotcachems"` // discovery snapshot TTL
}

// FXSettings holds effect chain tunables.
type FXSettings struct {
	PluginDirs      []string `mapstructure:"plugindirs"`
	VerifyTimeoutMs int      `mapstructure:"verifytimeoutms"`
	VerifyPollMs    int      `mapstructure:"verifypollms"`
}

// MeteringSettings holds level metering tunables.
type MeteringSettings struct {
	BlockSize int     `mapstructure:"blocksize"`
	Gain      float64 `mapstructure:"gain"` // display scaling applied to RMS
}

// Settings is the root configuration structure.
type Settings struct {
	Debug    bool             `mapstructure:"debug"`
	Main     MainSettings     `mapstructure:"main"`
	Engine   EngineSettings   `mapstructure:"engine"`
	FX       FXSettings       `mapstructure:"fx"`
	Metering MeteringSettings `mapstructure:"metering"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration from disk, applying defaults for anything
// the config file omits. Missing config file is not an error.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the singleton settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				// Fall back to pure defaults so the engine can still run
				settings := &Settings{}
				setDefaultConfig()
				_ = viper.Unmarshal(settings)
				settingsInstance = settings
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file, defaults apply
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the config search paths in priority order:
// the user config directory first, then the working directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "stripdeck"))
	}
	paths = append(paths, ".")
	return paths, nil
}
