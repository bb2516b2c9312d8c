// Package cfg defines mongofuse's configuration surface: the flags and
// YAML keys bound by cmd/root.go, in the nested-struct-plus-tags shape
// the teacher's config layer uses.
package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration, loadable from a YAML file
// (mongofuse.yaml) and overridable by CLI flags.
type Config struct {
	Mongo      MongoConfig      `yaml:"mongo" mapstructure:"mongo"`
	FileSystem FileSystemConfig `yaml:"file-system" mapstructure:"file-system"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Locking    LockingConfig    `yaml:"locking" mapstructure:"locking"`
	Debug      DebugConfig      `yaml:"debug" mapstructure:"debug"`
}

// MongoConfig describes how to reach the document store.
type MongoConfig struct {
	URI            string        `yaml:"uri" mapstructure:"uri"`
	Database       string        `yaml:"database" mapstructure:"database"`
	InodesColl     string        `yaml:"inodes-collection" mapstructure:"inodes-collection"`
	ExtentsColl    string        `yaml:"extents-collection" mapstructure:"extents-collection"`
	BlocksColl     string        `yaml:"blocks-collection" mapstructure:"blocks-collection"`
	MaxPoolSize    uint64        `yaml:"max-pool-size" mapstructure:"max-pool-size"`
	ConnectTimeout time.Duration `yaml:"connect-timeout" mapstructure:"connect-timeout"`
}

// FileSystemConfig controls the on-disk-facing behavior of the mount.
type FileSystemConfig struct {
	BlockSize   uint32 `yaml:"block-size" mapstructure:"block-size"`
	FileMode    Octal  `yaml:"file-mode" mapstructure:"file-mode"`
	DirMode     Octal  `yaml:"dir-mode" mapstructure:"dir-mode"`
	Uid         int    `yaml:"uid" mapstructure:"uid"`
	Gid         int    `yaml:"gid" mapstructure:"gid"`
	ReadAheadKB int    `yaml:"read-ahead-kb" mapstructure:"read-ahead-kb"`
}

// LoggingConfig follows the teacher's severity/log-rotate shape.
type LoggingConfig struct {
	Severity  string                 `yaml:"severity" mapstructure:"severity"`
	Format    string                 `yaml:"format" mapstructure:"format"`
	FilePath  string                 `yaml:"file-path" mapstructure:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// LogRotateLoggingConfig configures lumberjack.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" mapstructure:"address"`
}

// LockingConfig controls advisory inode locking.
type LockingConfig struct {
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
	DefaultTimeout time.Duration `yaml:"default-timeout" mapstructure:"default-timeout"`
	RateLimitPerS  float64       `yaml:"block-write-rate-limit-per-s" mapstructure:"block-write-rate-limit-per-s"`
	RateLimitBurst int           `yaml:"block-write-rate-limit-burst" mapstructure:"block-write-rate-limit-burst"`
}

// DebugConfig mirrors the teacher's escape hatches for development.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`
	LogMutex                 bool `yaml:"log-mutex" mapstructure:"log-mutex"`
}

// Octal is an int that parses "0644"-style octal literals from YAML the
// way the teacher's file-mode field does.
type Octal int

// BindFlags registers the command-line flags below and binds each to its
// viper key, so cmd/root.go's PersistentFlags and mongofuse.yaml agree
// on those keys. Keys without a flag here are set only from
// mongofuse.yaml.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.String("mongo-uri", "mongodb://localhost:27017", "Document store connection string.")
	if err = viper.BindPFlag("mongo.uri", flagSet.Lookup("mongo-uri")); err != nil {
		return err
	}

	flagSet.String("mongo-database", "mongofuse", "Database name holding the inodes/extents/blocks collections.")
	if err = viper.BindPFlag("mongo.database", flagSet.Lookup("mongo-database")); err != nil {
		return err
	}

	flagSet.Uint32("block-size", 4096, "Block size checked at startup to be a power of two; new inodes always use 4096.")
	if err = viper.BindPFlag("file-system.block-size", flagSet.Lookup("block-size")); err != nil {
		return err
	}

	flagSet.Int("uid", -1, "UID stored in the config; inode ownership is not set from it.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.Int("gid", -1, "GID stored in the config; inode ownership is not set from it.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.String("log-severity", "INFO", "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-format", "json", "Log line encoding: json or text.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Log file path; empty logs to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.Bool("metrics-enabled", false, "Serve Prometheus metrics.")
	if err = viper.BindPFlag("metrics.enabled", flagSet.Lookup("metrics-enabled")); err != nil {
		return err
	}

	flagSet.String("metrics-address", ":9400", "Address the Prometheus exporter listens on.")
	if err = viper.BindPFlag("metrics.address", flagSet.Lookup("metrics-address")); err != nil {
		return err
	}

	flagSet.Duration("lock-ttl", 30*time.Second, "Advisory lock staleness threshold.")
	if err = viper.BindPFlag("locking.ttl", flagSet.Lookup("lock-ttl")); err != nil {
		return err
	}

	return nil
}
