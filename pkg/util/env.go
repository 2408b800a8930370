package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvWithLocalBinFallback ensures the specified environment variable is
// present. It always attempts to load a single fallback file located at
// $HOME/.local/bin/.env to populate any variables that are currently missing
// from the environment (without overwriting already-set variables), then reads
// and returns the requested variable.
//
// Behavior:
//   - Does NOT load .env from the current working directory.
//   - Always tries to load "$HOME/.local/bin/.env" if it exists, using
//     non-overwriting semantics.
//   - After attempting the fallback load, returns the value of envName if present.
func LoadEnvWithLocalBinFallback(envName string) (string, error) {
	home, homeErr := os.UserHomeDir()
	var envPath string
	if homeErr == nil && home != "" {
		envPath = filepath.Join(home, ".local", "bin", ".env")
		if info, statErr := os.Stat(envPath); statErr == nil && !info.IsDir() {
			// godotenv.Load will NOT override variables that are already set.
			_ = godotenv.Load(envPath)
		}
	}

	if v := os.Getenv(envName); v != "" {
		return v, nil
	}

	if envPath == "" {
		return "", fmt.Errorf("environment variable %q not set and home directory unresolved", envName)
	}
	return "", fmt.Errorf("environment variable %q not set; attempted to load fallback file %s", envName, envPath)
}

// EnvString returns the trimmed value of the variable or fallback when unset/blank.
func EnvString(name, fallback string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	return v
}

// EnvDuration parses the variable as a time.Duration, returning fallback on
// absence or parse failure.
func EnvDuration(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
