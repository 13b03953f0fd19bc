package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	OpenAIKeyEnv     = "OPENAI_API_KEY"
	ElevenLabsKeyEnv = "ELEVENLABS_API_KEY"
)

// Secrets holds API credentials. They never come from the JSONC file.
type Secrets struct {
	OpenAIKey     string
	ElevenLabsKey string
	// EnvFiles lists the .env files that were read, in load order.
	EnvFiles []string
}

// LoadSecrets seeds the process environment from the aeris .env file and
// ./.env, then reads the API keys. Variables already set in the environment
// win over file values.
func LoadSecrets() (Secrets, error) {
	candidates := make([]string, 0, 2)
	if dir, err := configDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	candidates = append(candidates, ".env")
	return loadSecretsFrom(candidates...)
}

func loadSecretsFrom(paths ...string) (Secrets, error) {
	var secrets Secrets
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Secrets{}, fmt.Errorf("stat env file %q: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return Secrets{}, fmt.Errorf("load env file %q: %w", path, err)
		}
		secrets.EnvFiles = append(secrets.EnvFiles, path)
	}

	secrets.OpenAIKey = strings.TrimSpace(os.Getenv(OpenAIKeyEnv))
	secrets.ElevenLabsKey = strings.TrimSpace(os.Getenv(ElevenLabsKeyEnv))
	return secrets, nil
}

// Missing names the required keys that are unset.
func (s Secrets) Missing() []string {
	var missing []string
	if s.OpenAIKey == "" {
		missing = append(missing, OpenAIKeyEnv)
	}
	if s.ElevenLabsKey == "" {
		missing = append(missing, ElevenLabsKeyEnv)
	}
	return missing
}
