package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brgmlab/hydropipe/internal/config"
	"github.com/brgmlab/hydropipe/internal/logging"
)

const Version = "0.1.0"

var (
	configPath    string
	logLevelFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "hydropipe",
	Short: "Hydropipe - French hydrology data integration pipeline",
	Long: `Hydropipe harvests Hub'Eau and Sandre hydrology sources into a raw
object store, projects them into a TimescaleDB/PostGIS warehouse, and
maintains a station property graph on top.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the YAML configuration file (optional, environment overrides apply)")
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level", nil,
		"Log level for packages. Use a bare level for the default, or 'package.name=level' per package.\n"+
			"Examples: --log-level debug, --log-level silver.loader=debug --log-level harvest=warn")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(materializeCmd)
	rootCmd.AddCommand(backfillCmd)
}

// HandleError prints the error and exits.
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging from it plus any
// CLI overrides. CLI flags win over the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	defaultLevel, packageLevels, err := parseLogLevelFlags(logLevelFlags)
	if err != nil {
		return nil, err
	}
	if defaultLevel == "" {
		defaultLevel = cfg.LogLevel
	}
	merged := make(map[string]string, len(cfg.PackageLogLevels)+len(packageLevels))
	for pkg, level := range cfg.PackageLogLevels {
		merged[pkg] = level
	}
	for pkg, level := range packageLevels {
		merged[pkg] = level
	}

	if err := logging.Initialize(defaultLevel, merged); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseLogLevelFlags parses --log-level values. A bare level sets the
// default; "package.name=level" overrides one package.
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	defaultLevel := ""
	packageLevels := make(map[string]string)

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			if err := validateLogLevel(flag); err != nil {
				return "", nil, err
			}
			defaultLevel = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		if err := validateLogLevel(parts[1]); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", parts[0], err)
		}
		packageLevels[parts[0]] = parts[1]
	}
	return defaultLevel, packageLevels, nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
}
