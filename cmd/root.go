package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mongofuse/mongofuse/cfg"
)

var (
	cfgFile     string
	bindErr     error
	MountConfig cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "mongofuse [flags] mount_point",
	Short: "Mount a MongoDB-backed content-addressed filesystem locally",
	Long: `mongofuse is a FUSE adapter that stores inodes, directory
entries, extent metadata and deduplicated file content in MongoDB
collections, and supports point-in-time snapshots under .snapshot/.`,
	Args: cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		MountConfig.Logging = cfg.GetDefaultLoggingConfig()
		MountConfig.Mongo = cfg.GetDefaultMongoConfig()
		MountConfig.Locking = cfg.GetDefaultLockingConfig()
		if err := viper.Unmarshal(&MountConfig); err != nil {
			return fmt.Errorf("unmarshalling config: %w", err)
		}
		if err := cfg.ValidateConfig(&MountConfig); err != nil {
			return err
		}

		mountPoint, err := resolvePath(args[0])
		if err != nil {
			return fmt.Errorf("canonicalizing mount point: %w", err)
		}

		foreground, err := c.Flags().GetBool("foreground")
		if err != nil {
			return err
		}

		return mount(c.Context(), mountPoint, &MountConfig, foreground)
	},
}

func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Execute is main.go's single entry point into the cobra command tree.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a mongofuse.yaml config file.")
	rootCmd.PersistentFlags().Bool("foreground", false, "Run in the foreground instead of daemonizing.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	resolved, err := resolvePath(cfgFile)
	if err != nil {
		bindErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		bindErr = fmt.Errorf("reading config file: %w", err)
	}
}
