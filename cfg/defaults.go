package cfg

import "time"

// GetDefaultLoggingConfig returns the configuration used before a
// mongofuse.yaml has been parsed, the way the filesystem needs to start
// logging during flag parsing itself.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: "INFO",
		Format:   "json",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMb:   512,
		},
	}
}

// GetDefaultMongoConfig returns the connection defaults for a local
// development mongod.
func GetDefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "mongofuse",
		InodesColl:     "inodes",
		ExtentsColl:    "extents",
		BlocksColl:     "blocks",
		MaxPoolSize:    100,
		ConnectTimeout: 10 * time.Second,
	}
}

// GetDefaultLockingConfig returns the advisory-lock defaults.
func GetDefaultLockingConfig() LockingConfig {
	return LockingConfig{
		TTL:            30 * time.Second,
		DefaultTimeout: 5 * time.Second,
		RateLimitPerS:  2000,
		RateLimitBurst: 4000,
	}
}
