package cfg

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (retain all) or positive")
	}
	return nil
}

func isValidSeverity(s string) error {
	switch s {
	case "TRACE", "DEBUG", "INFO", "WARNING", "ERROR":
		return nil
	default:
		return fmt.Errorf("logging.severity %q is not one of TRACE, DEBUG, INFO, WARNING, ERROR", s)
	}
}

func isValidBlockSize(size uint32) error {
	if size == 0 || size&(size-1) != 0 {
		return fmt.Errorf("file-system.block-size %d must be a power of two", size)
	}
	return nil
}

// ValidateConfig returns a non-nil error if config cannot be used to
// start the filesystem.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidSeverity(config.Logging.Severity); err != nil {
		return err
	}
	if config.FileSystem.BlockSize != 0 {
		if err := isValidBlockSize(config.FileSystem.BlockSize); err != nil {
			return err
		}
	}
	if config.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri must not be empty")
	}
	if config.Mongo.Database == "" {
		return fmt.Errorf("mongo.database must not be empty")
	}
	return nil
}
