package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/watchparty/internal/infrastructure/env"
)

var candidatePaths = []string{
	"./config.yaml",
	"./config.yml",
	"/etc/watchparty/config.yaml",
	"/app/config.yaml", // common in Docker
}

// DetermineConfigPath parses the command line. Call it once, from main.
func DetermineConfigPath() string {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	return resolveConfigPath(configPath)
}

// resolveConfigPath falls back to WATCHPARTY_CONFIG and then the well-known
// locations. An empty result means defaults only.
func resolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = env.GetString("WATCHPARTY_CONFIG", "")
	}

	if configPath == "" {
		for _, p := range candidatePaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
