package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/imamik/k3ssm/internal/util/naming"
)

// DefaultConfigFilename is the default configuration filename.
const DefaultConfigFilename = "k3ssm.yaml"

// Environment variables that override file values.
const (
	EnvRegion               = "AWS_REGION"
	EnvPartition            = "K3SSM_PARTITION"
	EnvSkipInstanceCreation = "K3SSM_SKIP_INSTANCE_CREATION"
	EnvSkipK3sInstall       = "K3SSM_SKIP_K3S_INSTALL"
	EnvRegistry             = "K3SSM_REGISTRY"
	EnvOutputDir            = "K3SSM_OUTPUT_DIR"
	EnvRoleARNMain          = "K3SSM_ROLE_ARN_MAIN"
	EnvRoleARNOther         = "K3SSM_ROLE_ARN_OTHER"
)

// Default values applied after environment overrides.
const (
	DefaultPartition    = "standard"
	DefaultInstanceType = "t3.medium"
	DefaultOutputDir    = "k3ssm-out"
	DefaultNamespace    = "default"
	DefaultRelease      = "app"
	DefaultRootDevice   = "/dev/xvda"
	DefaultRootSizeGiB  = 30
)

// Load reads, overlays the process environment, defaults and validates.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg, err := LoadWithoutValidation(path, getenv)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithoutValidation loads a configuration without validation. The
// validate stage uses it to report every problem itself.
func LoadWithoutValidation(path string, getenv func(string) string) (*Config, error) {
	// #nosec G304 - path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// LoadFromBytes parses, defaults and validates data without consulting the
// environment.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overlays the CI environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error

	setString := func(env string, dst *string) {
		if v := getenv(env); v != "" {
			*dst = v
		}
	}
	setBool := func(env string, dst *bool) {
		v := getenv(env)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", env, v))
			return
		}
		*dst = b
	}

	setString(EnvRegion, &c.Region)
	setString(EnvPartition, &c.Partition)
	setBool(EnvSkipInstanceCreation, &c.SkipInstanceCreation)
	setBool(EnvSkipK3sInstall, &c.SkipK3sInstall)
	setString(EnvRegistry, &c.Registry.Type)
	setString(EnvOutputDir, &c.OutputDir)
	setString(EnvRoleARNMain, &c.Identity.MainRoleARN)
	setString(EnvRoleARNOther, &c.Identity.OtherRoleARN)

	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Partition == "" {
		c.Partition = DefaultPartition
	}
	if c.Instance.Name == "" && c.Environment != "" {
		c.Instance.Name = naming.Instance(c.Environment)
	}
	if c.Instance.Type == "" {
		c.Instance.Type = DefaultInstanceType
	}
	if len(c.Instance.Volumes) == 0 {
		c.Instance.Volumes = []VolumeConfig{{
			DeviceName: DefaultRootDevice,
			SizeGiB:    DefaultRootSizeGiB,
			Type:       "gp3",
			Encrypted:  true,
		}}
	}
	if c.State.Key == "" && c.Environment != "" {
		c.State.Key = naming.StateKey(c.Environment)
	}
	if c.Registry.Type == "" {
		c.Registry.Type = RegistryNone
	}
	if c.Deploy.Namespace == "" {
		c.Deploy.Namespace = DefaultNamespace
	}
	if c.Deploy.Release == "" {
		c.Deploy.Release = DefaultRelease
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
}

// FindConfigFile searches start and its parents for k3ssm.yaml.
func FindConfigFile(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", start, err)
	}

	for {
		path := filepath.Join(dir, DefaultConfigFilename)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("config file %s not found", DefaultConfigFilename)
}

// ResolvePath returns explicit when set, otherwise the discovered file.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return FindConfigFile(cwd)
}
