package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-simplefs/fs"
)

const (
	envVarPrefix = "SIMPLEFS"
	appName      = "simplefs"
)

type Config struct {
	Frames   uint64 `envconfig:"FRAMES"    yaml:"frames"`
	MaxFiles uint64 `envconfig:"MAX_FILES" yaml:"maxFiles"`
	Debug    uint64 `envconfig:"DEBUG"     yaml:"debug"`
}

// LoadConfig reads the yaml file at configFile (or the default location)
// and then applies SIMPLEFS_* environment overrides. A missing file is not
// an error.
func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.Getenv("HOME")
		}
		configFile = filepath.Join(home, ".config", appName+".yaml")
	}

	var c Config
	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

// FsConfig maps the CLI settings onto the mount configuration; zero values
// keep the defaults.
func (c *Config) FsConfig() fs.Config {
	cfg := fs.DefaultConfig()
	if c.Frames != 0 {
		cfg.Frames = c.Frames
	}
	if c.MaxFiles != 0 {
		cfg.MaxFiles = c.MaxFiles
	}
	return cfg
}
