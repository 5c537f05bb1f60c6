package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

// ensureExampleConfig writes config.toml.example next to the real config so
// operators can see every key with its default.
func ensureExampleConfig(dir string) {
	if dir == "" {
		dir = defaultDataDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("create config directory failed", "dir", dir, "error", err)
		return
	}
	data, err := exampleConfigBytes()
	if err != nil {
		logger.Warn("encode config example failed", "error", err)
		return
	}
	path := filepath.Join(dir, "config.toml.example")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("write example config failed", "path", path, "error", err)
	}
}

func exampleConfigBytes() ([]byte, error) {
	data, err := toml.Marshal(buildFileConfig(defaultConfig()))
	if err != nil {
		return nil, err
	}
	header := fmt.Sprintf("# Generated %s example config (copy to config.toml and edit as needed)\n\n", serviceName)
	return append([]byte(header), data...), nil
}
