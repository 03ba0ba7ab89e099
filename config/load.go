package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/subman/errors"
)

// Load reads the configuration for the project rooted at root.
// Missing Substrate.toml is not an error: defaults describe the standard node template.
func Load(root string) (*Config, error) {
	v := newViper()

	projectFile := filepath.Join(root, ProjectFileName)
	if _, err := os.Stat(projectFile); err == nil {
		v.SetConfigFile(projectFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", projectFile)
		}
	}

	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	registries, err := LoadCargoRegistries(root)
	if err != nil {
		return nil, err
	}
	cfg.mergeRegistries(registries)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// newViper initializes Viper with defaults and environment binding
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetEnvPrefix("SUBMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// mergeRegistries adds cargo-discovered registries; entries from Substrate.toml win
// field by field so a project can pin an index while cargo supplies the token.
func (c *Config) mergeRegistries(found map[string]Registry) {
	if c.Registries == nil {
		c.Registries = make(map[string]Registry, len(found))
	}
	for name, reg := range found {
		cur, ok := c.Registries[name]
		if !ok {
			c.Registries[name] = reg
			continue
		}
		if cur.Index == "" {
			cur.Index = reg.Index
		}
		if cur.Token == "" {
			cur.Token = reg.Token
		}
		c.Registries[name] = cur
	}
}
