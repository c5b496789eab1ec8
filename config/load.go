package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML form of a Config.
type FileConfig struct {
	Debug         *bool  `yaml:"debug"`
	RootDir       string `yaml:"root_dir"`
	DatabaseName  string `yaml:"database_name"`
	LoggingPrefix string `yaml:"logging_prefix"`
	Cache         struct {
		Backend   string `yaml:"backend"`
		URL       string `yaml:"url"`
		TTL       string `yaml:"ttl"`
		Namespace string `yaml:"namespace"`
		Size      int    `yaml:"size"`
	} `yaml:"cache"`
}

// LoadFile reads a YAML config file and returns the options it describes.
// Unset keys leave the defaults of NewConfig in place.
func LoadFile(path string) ([]Option, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}
	return fc.options()
}

func (fc FileConfig) options() ([]Option, error) {
	opts := make([]Option, 0)
	if fc.Debug != nil {
		opts = append(opts, WithDebug(*fc.Debug))
	}
	if fc.RootDir != "" {
		opts = append(opts, WithRootDir(fc.RootDir))
	}
	if fc.DatabaseName != "" {
		opts = append(opts, WithDatabaseName(fc.DatabaseName))
	}
	if fc.LoggingPrefix != "" {
		opts = append(opts, WithLoggingPrefix(fc.LoggingPrefix))
	}
	if fc.Cache.Backend != "" {
		b, err := cacheBackend(fc.Cache.Backend)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCacheBackend(b))
	}
	if fc.Cache.URL != "" {
		opts = append(opts, WithCacheURL(fc.Cache.URL))
	}
	if fc.Cache.TTL != "" {
		ttl, err := time.ParseDuration(fc.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("config: invalid cache ttl %q: %w", fc.Cache.TTL, err)
		}
		opts = append(opts, WithCacheTTL(ttl))
	}
	if fc.Cache.Namespace != "" {
		opts = append(opts, WithCacheNamespace(fc.Cache.Namespace))
	}
	if fc.Cache.Size != 0 {
		opts = append(opts, WithCacheSize(fc.Cache.Size))
	}
	return opts, nil
}

// LoadEnv loads the given .env files (or ".env" when none are given) into the process
// environment and returns options for every PARLEY_* variable that is set.
// Missing files are not an error.
func LoadEnv(files ...string) ([]Option, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) != 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("config: loading env files: %w", err)
		}
	}

	opts := make([]Option, 0)
	if v, ok := os.LookupEnv("PARLEY_DEBUG"); ok {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PARLEY_DEBUG %q: %w", v, err)
		}
		opts = append(opts, WithDebug(d))
	}
	if v := os.Getenv("PARLEY_ROOT_DIR"); v != "" {
		opts = append(opts, WithRootDir(v))
	}
	if v := os.Getenv("PARLEY_DATABASE_NAME"); v != "" {
		opts = append(opts, WithDatabaseName(v))
	}
	if v := os.Getenv("PARLEY_LOGGING_PREFIX"); v != "" {
		opts = append(opts, WithLoggingPrefix(v))
	}
	if v := os.Getenv("PARLEY_CACHE_BACKEND"); v != "" {
		b, err := cacheBackend(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCacheBackend(b))
	}
	if v := os.Getenv("PARLEY_CACHE_URL"); v != "" {
		opts = append(opts, WithCacheURL(v))
	}
	if v := os.Getenv("PARLEY_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PARLEY_CACHE_TTL %q: %w", v, err)
		}
		opts = append(opts, WithCacheTTL(ttl))
	}
	if v := os.Getenv("PARLEY_CACHE_NAMESPACE"); v != "" {
		opts = append(opts, WithCacheNamespace(v))
	}
	if v := os.Getenv("PARLEY_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PARLEY_CACHE_SIZE %q: %w", v, err)
		}
		opts = append(opts, WithCacheSize(n))
	}
	return opts, nil
}

func cacheBackend(b string) (string, error) {
	switch b {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendValkey:
		return b, nil
	default:
		return "", fmt.Errorf("config: unknown cache backend %q", b)
	}
}
