// Package biophys loads the run configuration of a biophysically detailed
// simulation and the model description files it references.
package biophys

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/banshee-data/ophys.report/internal/fsutil"
	"github.com/banshee-data/ophys.report/internal/monitoring"
)

// EnvPrefix prefixes the environment variables that override settings.
const EnvPrefix = "BIOPHYS"

// Setting is one configurable parameter with its default and help text.
type Setting struct {
	Key     string
	Default string
	Help    string
}

// Settings defines the available configuration parameters.
var Settings = []Setting{
	{"workdir", "workdir", "writable directory where intermediate and output files are written."},
	{"data_dir", "", "directory holding model input data."},
	{"model_file", "param.json", "file(s) where the model parameters are set."},
	{"run_file", "param_run.json", "file where the run flags are set."},
	{"main", "simulation#run", "module#function that runs the actual simulation."},
}

// Config is the merged run configuration.
type Config struct {
	Workdir   string `mapstructure:"workdir" json:"workdir"`
	DataDir   string `mapstructure:"data_dir" json:"data_dir"`
	ModelFile string `mapstructure:"model_file" json:"model_file"`
	RunFile   string `mapstructure:"run_file" json:"run_file"`
	Main      string `mapstructure:"main" json:"main"`
}

// DefaultConfig returns a Config holding the defaults from Settings.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// EnvVar returns the environment variable bound to key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strcase.ToScreamingSnake(key)
}

// Entrypoint splits main into its module and function parts. Loading keeps
// main as written; only callers that run the simulation split it.
func (c *Config) Entrypoint() (module, function string, err error) {
	module, function, ok := strings.Cut(c.Main, "#")
	if !ok || module == "" || function == "" {
		return "", "", fmt.Errorf("main must have the form module#function, got %q", c.Main)
	}
	return module, function, nil
}

// RegisterFlags adds one flag per setting to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range Settings {
		if fs.Lookup(s.Key) == nil {
			fs.String(s.Key, s.Default, s.Help)
		}
	}
}

// Loader merges defaults, a config file, environment and flags, then reads
// the model description.
type Loader struct {
	FS     fsutil.FileSystem
	Flags  *pflag.FlagSet
	Parser *Parser
}

// NewLoader returns a Loader reading through fsys.
func NewLoader(fsys fsutil.FileSystem) *Loader {
	return &Loader{FS: fsys, Parser: &Parser{FS: fsys}}
}

// Load merges the configuration at path and returns the model description it
// points at.
func (l *Loader) Load(path string) (*Config, *Description, error) {
	cfg, err := l.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	desc, err := l.ReadModelDescription(cfg, path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, desc, nil
}

// LoadConfig merges the file at path over the defaults. Flags bound through
// l.Flags and BIOPHYS_* environment variables take precedence over the file.
// An empty path yields defaults plus overrides.
func (l *Loader) LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for _, s := range Settings {
		if err := v.BindEnv(s.Key, EnvVar(s.Key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", EnvVar(s.Key), err)
		}
		if l.Flags != nil {
			if f := l.Flags.Lookup(s.Key); f != nil {
				if err := v.BindPFlag(s.Key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", s.Key, err)
				}
			}
		}
	}

	if path != "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		switch ext {
		case "json", "yaml", "yml", "toml":
		default:
			return nil, fmt.Errorf("config file must be json, yaml or toml, got %q", filepath.Ext(path))
		}

		data, err := fsutil.ReadBounded(l.FS, path, fsutil.MaxConfigSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		v.SetConfigType(ext)
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ReadModelDescription parses every model file named by cfg.ModelFile into
// one Description. Relative paths resolve against the directory of
// configPath.
func (l *Loader) ReadModelDescription(cfg *Config, configPath string) (*Description, error) {
	monitoring.Logf("model file: %s", cfg.ModelFile)

	refs, err := ParseModelRefs(cfg.ModelFile)
	if err != nil {
		return nil, err
	}

	parser := l.Parser
	if parser == nil {
		parser = &Parser{FS: l.FS}
	}

	desc := NewDescription()
	for _, ref := range refs {
		path := fsutil.Resolve(configPath, ref.Path)
		monitoring.Logf("reading model file %s", path)
		if err := parser.Read(path, desc, ref.Section); err != nil {
			return nil, err
		}
	}
	return desc, nil
}

func setDefaults(v *viper.Viper) {
	for _, s := range Settings {
		v.SetDefault(s.Key, s.Default)
	}
}
