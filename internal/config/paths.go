package config

import (
	"os"
	"path/filepath"
)

const defaultFileName = "config.yaml"

// ResolveHome returns the policygen home directory: POLICYGEN_HOME when
// set, otherwise <user config dir>/policygen.
func ResolveHome() string {
	if home := os.Getenv("POLICYGEN_HOME"); home != "" {
		return home
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "policygen")
}

// ResolveConfigPath returns the profile file to use.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	return filepath.Join(ResolveHome(), defaultFileName)
}
