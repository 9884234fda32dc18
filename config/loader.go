package config

import (
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/xmx0632/photoshow/errors"
)

// Loader merges defaults, file layers and environment overrides into a
// Config.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	fs         afero.Fs
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		fs:        afero.NewOsFs(),
	}
}

// WithFs reads layers from fs instead of the OS filesystem.
func (l *Loader) WithFs(fs afero.Fs) *Loader {
	l.fs = fs
	return l
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetFs(l.fs)
	setDefaults(v, Default())

	for _, path := range l.layers {
		if err := validateConfigPath(l.fs, path); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "check "+path)
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err), "Loader", "Load", "read "+path)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err), "Loader", "Load", "decode config")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
