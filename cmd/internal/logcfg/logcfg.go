package logcfg

import (
	"os"

	logs "github.com/danmuck/smplog"
)

const (
	envConfigPath   = "QUERYLOOP_LOG_CONFIG"
	envSmplogConfig = "SMPLOG_CONFIG"
)

var candidates = []string{
	"./queryloop.log.toml",
	"./smplog.config.toml",
	"./local/smplog.config.toml",
}

// Load returns the first logging config that decodes, checking the env
// overrides before the candidate files, otherwise smplog defaults.
func Load() logs.Config {
	paths := make([]string, 0, len(candidates)+2)
	for _, env := range []string{envConfigPath, envSmplogConfig} {
		if path := os.Getenv(env); path != "" {
			paths = append(paths, path)
		}
	}
	paths = append(paths, candidates...)

	for _, path := range paths {
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}

	return logs.DefaultConfig()
}
