// This package defines a common config struct which can be used by any subsystem within parley.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendValkey = "valkey"
)

type Config struct {
	Debug          bool
	RootDir        string
	DatabaseName   string
	LoggingPrefix  string
	CacheBackend   string
	CacheURL       string
	CacheTTL       time.Duration
	CacheNamespace string
	CacheSize      int
	writer         io.Writer
}

func (c Config) Logger(source string) *zap.SugaredLogger {
	var p string
	if source == "" {
		p = c.LoggingPrefix
	} else {
		p = fmt.Sprintf("%s:%s", c.LoggingPrefix, source)
	}

	level := zapcore.InfoLevel
	if c.Debug {
		level = zapcore.DebugLevel
	}
	opts := []zap.Option{
		zap.Fields(zap.String("source", p)),
	}

	de := zap.NewDevelopmentEncoderConfig()
	consoleEncoder := zapcore.NewConsoleEncoder(de)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
	}
	if c.writer != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(de), zapcore.AddSync(c.writer), level))
	}
	return zap.New(zapcore.NewTee(cores...), opts...).Sugar()
}

// Path of the database file inside the root directory.
func (c Config) DatabasePath() string {
	return filepath.Join(c.RootDir, c.DatabaseName)
}

type Option func(*Config)

func WithDebug(d bool) Option {
	return func(c *Config) {
		c.Debug = d
	}
}

func WithRootDir(d string) Option {
	return func(c *Config) {
		c.RootDir = d
	}
}

func WithDatabaseName(n string) Option {
	return func(c *Config) {
		c.DatabaseName = n
	}
}

func WithLoggingPrefix(p string) Option {
	return func(c *Config) {
		c.LoggingPrefix = p
	}
}

func WithCacheBackend(b string) Option {
	return func(c *Config) {
		c.CacheBackend = b
	}
}

func WithCacheURL(u string) Option {
	return func(c *Config) {
		c.CacheURL = u
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = d
	}
}

// Prefix of every cache key. When empty, parley derives one from the database path so instances
// sharing a cache server never see each other's entries.
func WithCacheNamespace(n string) Option {
	return func(c *Config) {
		c.CacheNamespace = n
	}
}

// Entry limit of the memory cache backend.
func WithCacheSize(n int) Option {
	return func(c *Config) {
		c.CacheSize = n
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Debug:          os.Getenv("DEBUG") == "1",
		RootDir:        ".",
		DatabaseName:   "data",
		LoggingPrefix:  "",
		CacheBackend:   CacheBackendMemory,
		CacheURL:       "",
		CacheTTL:       0,
		CacheNamespace: "",
		CacheSize:      10000,

		writer: nil,
	}
	for _, o := range opts {
		o(c)
	}

	c.writer = &lumberjack.Logger{
		Filename:   filepath.Join(c.RootDir, "out.log"),
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28,   // days
		Compress:   true, // disabled by default
	}
	return c
}
