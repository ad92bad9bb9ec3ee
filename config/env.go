package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// ProfileEnv selects the .env.<profile> overlay when no profile is given.
const ProfileEnv = "ARKYVE_PROFILE"

// EnvFiles returns the dotenv files that apply in dir, highest precedence
// first: .env.<profile> then .env. Files that do not exist are omitted.
func EnvFiles(dir, profile string) []string {
	if profile == "" {
		profile = os.Getenv(ProfileEnv)
	}
	names := []string{".env"}
	if profile != "" {
		names = []string{".env." + profile, ".env"}
	}

	var out []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

// LoadEnv exports the variables of the dotenv files in dir into the process
// environment. Variables that are already set are left alone, so the real
// environment wins over .env.<profile>, which wins over .env. It returns the
// files it read.
func LoadEnv(dir, profile string) ([]string, error) {
	files := EnvFiles(dir, profile)
	if len(files) == 0 {
		return nil, nil
	}
	if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("config: load %v: %w", files, err)
	}
	return files, nil
}
