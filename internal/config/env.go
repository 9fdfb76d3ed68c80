package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// envAliases maps canonical VITANIPS_* keys to names other tooling already uses
var envAliases = map[string][]string{
	"VITANIPS_GATEWAY_SECRET_KEY":  {"FLUTTERWAVE_SECRET_KEY", "FLW_SECRET_KEY"},
	"VITANIPS_SECURITY_JWT_SECRET": {"VITANIPS_JWT_SECRET", "JWT_SECRET"},
}

// EnvFilePaths lists the .env files LoadEnvFiles reads, in order
func EnvFilePaths(dataDir string) []string {
	paths := []string{".env"}
	if dataDir != "" {
		paths = append(paths, filepath.Join(dataDir, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vitanips", ".env"))
	}
	return paths
}

// LoadEnvFiles applies every .env file that exists and returns the ones read.
// Variables already set in the environment win over file values.
func LoadEnvFiles(dataDir string) ([]string, error) {
	var loaded []string
	for _, path := range EnvFilePaths(dataDir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadEnvFile(path); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok, err := parseEnvLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// parseEnvLine handles KEY=value, export KEY=value, quoted values and
// trailing comments on unquoted values
func parseEnvLine(line string) (key, value string, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimPrefix(line, "export ")

	k, v, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, fmt.Errorf("missing '=' in %q", line)
	}
	key = strings.TrimSpace(k)
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false, fmt.Errorf("invalid key %q", k)
	}

	v = strings.TrimSpace(v)
	switch {
	case len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0]:
		v = v[1 : len(v)-1]
	default:
		if i := strings.Index(v, " #"); i >= 0 {
			v = strings.TrimSpace(v[:i])
		}
	}
	return key, v, true, nil
}

// GetEnvDefault returns the variable or fallback when it is unset or empty
func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// ResolveEnvWithAliases reads the canonical key, then its aliases
func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}
	for _, alias := range envAliases[canonicalKey] {
		if val := os.Getenv(alias); val != "" {
			return val
		}
	}
	return ""
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
