package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ErrMissingToken is returned when neither the config file nor the environment carries a bot token.
var ErrMissingToken = errors.New("telegram token is empty (set telegram.token or TELEGRAM_BOT_TOKEN)")

var tokenEnvKeys = []string{"TELEGRAM_BOT_TOKEN", "TELOXIDE_TOKEN"}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ResolveToken returns the configured token, falling back to the environment.
func ResolveToken(cfg *Config) (string, error) {
	if cfg != nil {
		if t := strings.TrimSpace(cfg.Telegram.Token); t != "" {
			return t, nil
		}
	}
	for _, k := range tokenEnvKeys {
		if t := strings.TrimSpace(os.Getenv(k)); t != "" {
			return t, nil
		}
	}
	return "", ErrMissingToken
}
