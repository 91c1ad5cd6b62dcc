package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, parses, and processes the configuration file.
//
// Pipeline: raw bytes -> YAML map -> ${ENV_VAR} expansion -> struct decode ->
// defaults -> validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse processes an in-memory configuration document.
func Parse(data []byte) (*Config, error) {
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := expandEnvVars(rawMap)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars walks the parsed document and substitutes ${VAR} references
// in string values with the environment value. Unset variables expand to the
// empty string.
func expandEnvVars(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return envVarPattern.ReplaceAllStringFunc(val, func(match string) string {
			name := envVarPattern.FindStringSubmatch(match)[1]
			return os.Getenv(name)
		})
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = expandEnvVars(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = expandEnvVars(item)
		}
		return out
	default:
		return v
	}
}
