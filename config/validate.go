package config

import "github.com/teranos/subman/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Type != "chain" {
		return errors.WithHint(
			errors.Newf("unsupported project type %q in %s", c.Type, ProjectFileName),
			`pallets can only be added to projects with type = "chain"`,
		)
	}

	if c.Paths.Runtime == "" && (c.Paths.Manifest == "" || c.Paths.Composition == "") {
		return errors.New("paths.runtime cannot be empty unless paths.manifest and paths.composition are set")
	}

	if c.Runtime.Section == "" {
		return errors.New("runtime.section cannot be empty")
	}
	if c.Runtime.BaseIndex < 0 || c.Runtime.BaseIndex > 255 {
		return errors.Newf("runtime.base_index must be within 0..255, got %d", c.Runtime.BaseIndex)
	}

	if c.Registry.Index == "" {
		return errors.New("registry.index cannot be empty")
	}
	if c.Registry.Timeout <= 0 {
		return errors.Newf("registry.timeout must be > 0, got %s", c.Registry.Timeout)
	}
	if c.Registry.RequestsPerSecond < 0 {
		return errors.Newf("registry.requests_per_second must be >= 0, got %f", c.Registry.RequestsPerSecond)
	}
	if c.Registry.Concurrency < 1 {
		return errors.Newf("registry.concurrency must be >= 1, got %d", c.Registry.Concurrency)
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.Newf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return errors.Newf("retry.multiplier must be >= 1, got %f", c.Retry.Multiplier)
	}

	for name, reg := range c.Registries {
		if reg.Index == "" {
			return errors.WithHintf(
				errors.Newf("registry %q has no index", name),
				"set [registries.%s] index in .cargo/config.toml", name,
			)
		}
	}

	return nil
}
