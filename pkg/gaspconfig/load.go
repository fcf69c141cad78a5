package gaspconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gookit/slog"
	"github.com/spf13/viper"
)

// DefaultConfigFilePath is used when SetConfigFilePath is never called.
const DefaultConfigFilePath = "gaspsyncd.yaml"

var loadableExts = []string{"yaml", "yml", "json"}

// Load implements Loader and Exporter around a single viper.Viper that
// resolves configuration in priority order: envPrefix-scoped environment
// variables, then an optional file, then the compiled-in defaults.
type Load struct {
	cfg            ServerConfig
	configFilePath string
	v              *viper.Viper
}

// NewLoader constructs a Load that reads environment variables under
// envPrefix (e.g. GASP_ADDRESS) and defaults to DefaultConfigFilePath.
func NewLoader(envPrefix string) *Load {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Load{
		cfg:            DefaultConfig(),
		configFilePath: DefaultConfigFilePath,
		v:              v,
	}
}

// SetConfigFilePath implements Loader.
func (l *Load) SetConfigFilePath(path string) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if !slices.Contains(loadableExts, ext) {
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}
	l.configFilePath = path
	return nil
}

// Load implements Loader. It seeds viper's defaults from DefaultConfig,
// merges in the config file if one exists at configFilePath, unmarshals
// the result onto ServerConfig, then runs applyDefaults as a last pass
// for any field the merge left at its zero value.
func (l *Load) Load() (ServerConfig, error) {
	if err := l.seedDefaults(); err != nil {
		return l.cfg, err
	}

	if _, err := os.Stat(l.configFilePath); err == nil {
		l.v.SetConfigFile(l.configFilePath)
		if err := l.v.ReadInConfig(); err != nil {
			return l.cfg, fmt.Errorf("reading config file %s: %w", l.configFilePath, err)
		}
		slog.Infof("loaded config from %s", l.configFilePath)
	} else {
		slog.Warnf("no config file at %s; using defaults and environment", l.configFilePath)
	}

	if err := l.v.Unmarshal(&l.cfg); err != nil {
		return l.cfg, fmt.Errorf("unmarshalling config: %w", err)
	}
	l.applyDefaults()

	slog.Info("config loaded")
	return l.cfg, nil
}

func (l *Load) seedDefaults() error {
	defaults := map[string]any{}
	if err := mapstructure.Decode(DefaultConfig(), &defaults); err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	for key, value := range defaults {
		l.v.SetDefault(key, value)
	}
	return nil
}
