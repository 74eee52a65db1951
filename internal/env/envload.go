// Package env loads the bridge's .env file once and reads typed MONOX_*
// overrides from the process environment.
package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads one .env file into the process environment: the first of dirs
// that holds one, otherwise the nearest one above the working directory.
// Variables that are already set win over the file. Only the first call
// loads anything; LoadedPath reports what it picked.
func Ensure(dirs ...string) error {
	// Tests stay hermetic unless GOTEST_LOAD_DOTENV=1.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := findDotEnv(dirs)
		if err != nil {
			loadErr = errors.Wrap(err, "search .env")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = errors.Wrapf(err, "load %s", path)
			return
		}
		loadedPath = path
	})
	return loadErr
}

// LoadedPath returns the .env file Ensure loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv(dirs []string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if ok, err := isDotEnv(filepath.Join(dir, ".env")); err != nil || ok {
			return filepath.Join(dir, ".env"), err
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, ".env")
		if ok, err := isDotEnv(candidate); err != nil || ok {
			return candidate, err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}

func isDotEnv(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", val).Msg("ignoring non-integer environment value")
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
func Duration(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", val).Msg("ignoring invalid duration environment value")
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		log.Warn().Str("key", key).Str("value", val).Msg("ignoring invalid boolean environment value")
	}
	return fallback
}
