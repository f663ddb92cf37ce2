package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/brgmlab/hydropipe/internal/faults"
)

// envBindings maps process environment variables onto config keys.
// Environment always wins over the file.
var envBindings = map[string]string{
	"LOG_LEVEL":       "log_level",
	"ADMIN_PORT":      "admin_port",
	"RUN_TIMEZONE":    "run_timezone",
	"MAX_CONCURRENT":  "max_concurrent",
	"WAREHOUSE_DSN":   "warehouse.dsn",
	"GRAPH_URI":       "graph.host",
	"GRAPH_PORT":      "graph.port",
	"GRAPH_USER":      "graph.user",
	"GRAPH_PASS":      "graph.password",
	"GRAPH_NAME":      "graph.graph_name",
	"CACHE_URI":       "cache.uri",
	"OBJECT_ENDPOINT": "object.endpoint",
	"OBJECT_USER":     "object.access_key",
	"OBJECT_PASS":     "object.secret_key",
	"OBJECT_SSL":      "object.use_ssl",
	"OBJECT_BUCKETS":  "object.buckets",
	"OTLP_ENDPOINT":   "tracing.endpoint",
}

// listKeys are env values split on commas into string slices.
var listKeys = map[string]struct{}{
	"object.buckets": {},
}

// Load builds the configuration: defaults, then the optional YAML file,
// then environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, faults.Config("load config file %q: %v", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", bindEnv), nil); err != nil {
		return nil, faults.Config("load environment: %v", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, faults.Config("parse configuration: %v", err)
	}

	// Comma lists arrive as single strings from the environment.
	for key := range listKeys {
		if raw := k.String(key); raw != "" && strings.Contains(raw, ",") {
			setList(cfg, key, splitList(raw))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(name string) string {
	if key, ok := envBindings[name]; ok {
		return key
	}
	return ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func setList(cfg *Config, key string, values []string) {
	switch key {
	case "object.buckets":
		cfg.Object.Buckets = values
	}
}
