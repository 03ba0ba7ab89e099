package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/subman/errors"
)

// cargoFile is the subset of cargo's config.toml / credentials.toml we read
type cargoFile struct {
	Registries map[string]Registry `toml:"registries"`
}

// LoadCargoRegistries discovers custom registries the way cargo does:
// .cargo/config.toml files from root up to the filesystem root, then
// $CARGO_HOME/config.toml, then tokens from $CARGO_HOME/credentials.toml,
// and finally CARGO_REGISTRIES_<NAME>_INDEX / _TOKEN environment variables.
// Files closer to the project take precedence.
func LoadCargoRegistries(root string) (map[string]Registry, error) {
	registries := make(map[string]Registry)

	files := projectCargoConfigs(root)
	if home := cargoHome(); home != "" {
		files = append(files, filepath.Join(home, "config.toml"), filepath.Join(home, "credentials.toml"))
	}

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		var f cargoFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, errors.Wrapf(err, "failed to parse cargo config %s", path)
		}
		for name, reg := range f.Registries {
			cur := registries[name]
			if cur.Index == "" {
				cur.Index = reg.Index
			}
			if cur.Token == "" {
				cur.Token = reg.Token
			}
			registries[name] = cur
		}
	}

	applyRegistryEnv(registries, os.Environ())
	return registries, nil
}

// projectCargoConfigs lists .cargo/config.toml candidates from root upwards
func projectCargoConfigs(root string) []string {
	var files []string
	dir, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	for {
		files = append(files,
			filepath.Join(dir, ".cargo", "config.toml"),
			filepath.Join(dir, ".cargo", "config"),
		)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return files
}

func cargoHome() string {
	if home := os.Getenv("CARGO_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(userHome, ".cargo")
}

// applyRegistryEnv overlays CARGO_REGISTRIES_<NAME>_{INDEX,TOKEN}.
// Environment values override files, matching cargo.
func applyRegistryEnv(registries map[string]Registry, environ []string) {
	const prefix = "CARGO_REGISTRIES_"

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || value == "" {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)

		var field string
		switch {
		case strings.HasSuffix(rest, "_INDEX"):
			field = "index"
			rest = strings.TrimSuffix(rest, "_INDEX")
		case strings.HasSuffix(rest, "_TOKEN"):
			field = "token"
			rest = strings.TrimSuffix(rest, "_TOKEN")
		default:
			continue
		}

		name := registryNameForEnv(registries, rest)
		reg := registries[name]
		if field == "index" {
			reg.Index = value
		} else {
			reg.Token = value
		}
		registries[name] = reg
	}
}

// registryNameForEnv maps MY_REGISTRY back to an existing "my-registry" entry
func registryNameForEnv(registries map[string]Registry, envName string) string {
	for name := range registries {
		if strings.EqualFold(strings.ReplaceAll(name, "-", "_"), envName) {
			return name
		}
	}
	return strings.ToLower(strings.ReplaceAll(envName, "_", "-"))
}
