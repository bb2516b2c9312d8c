package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mongofuse/mongofuse/cfg"
	"github.com/mongofuse/mongofuse/internal/blockstore"
	"github.com/mongofuse/mongofuse/internal/dirops"
	"github.com/mongofuse/mongofuse/internal/extent"
	"github.com/mongofuse/mongofuse/internal/fuseadapter"
	"github.com/mongofuse/mongofuse/internal/inode"
	"github.com/mongofuse/mongofuse/internal/logger"
	"github.com/mongofuse/mongofuse/internal/metrics"
	"github.com/mongofuse/mongofuse/internal/rw"
	"github.com/mongofuse/mongofuse/internal/snapshot"
	"github.com/mongofuse/mongofuse/internal/store"
	"golang.org/x/time/rate"
)

const inBackgroundEnvVar = "MONGOFUSE_IN_BACKGROUND"

// mount wires the storage layer, the filesystem core and the FUSE
// adapter together and mounts at mountPoint. If foreground is false and
// this process isn't already the re-exec'd daemon, it daemonizes via
// jacobsa/daemonize and returns once the child signals success or
// failure, matching the way the teacher's legacy CLI backgrounds itself.
func mount(ctx context.Context, mountPoint string, c *cfg.Config, foreground bool) error {
	if err := logger.Init(c.Logging); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	if !foreground && os.Getenv(inBackgroundEnvVar) == "" {
		return daemonizeSelf(mountPoint)
	}

	conn, err := store.Dial(ctx, store.Config{
		URI:            c.Mongo.URI,
		Database:       c.Mongo.Database,
		InodesColl:     c.Mongo.InodesColl,
		ExtentsColl:    c.Mongo.ExtentsColl,
		BlocksColl:     c.Mongo.BlocksColl,
		MaxPoolSize:    c.Mongo.MaxPoolSize,
		ConnectTimeout: c.Mongo.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("connecting to document store: %w", err)
	}

	var reg *prometheus.Registry
	var metricsHandle *metrics.Handle
	if c.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metricsHandle = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, c.Metrics.Address, reg); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}
	inodes := inode.NewStore(conn.Inodes(), timeutil.RealClock(), c.Locking.TTL)
	if err := inodes.Bootstrap(ctx, uint32(c.FileSystem.DirMode)); err != nil {
		return fmt.Errorf("bootstrapping root directory: %w", err)
	}

	extents := extent.NewStore(conn.Extents())
	blocks := blockstore.NewStore(conn.Blocks(), blockstore.WithRateLimit(
		rate.Limit(c.Locking.RateLimitPerS), c.Locking.RateLimitBurst))

	snap := snapshot.NewEngine(inodes, extents, blocks)
	dirs := dirops.New(inodes, snap)
	rwPath := rw.New(inodes, extents, blocks).WithMetrics(metricsHandle)

	fsys := fuseadapter.New(inodes, dirs, rwPath, snap).WithMetrics(metricsHandle)

	mfs, err := fuse.Mount(mountPoint, fsys, &fuse.MountConfig{
		FSName:     "mongofuse",
		Subtype:    "mongofuse",
		VolumeName: "mongofuse",
	})
	if err != nil {
		if !foreground {
			_ = daemonize.SignalOutcome(fmt.Errorf("fuse.Mount: %w", err))
		}
		return fmt.Errorf("mount: %w", err)
	}

	if !foreground {
		_ = daemonize.SignalOutcome(nil)
	}

	registerSIGINTHandler(mountPoint)

	logger.Infof("mongofuse mounted at %s", mountPoint)
	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}
	return nil
}

func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		<-signalChan
		logger.Infof("received SIGINT, attempting to unmount %s", mountPoint)
		if err := fuse.Unmount(mountPoint); err != nil {
			logger.Errorf("failed to unmount in response to SIGINT: %v", err)
			return
		}
		logger.Infof("successfully unmounted in response to SIGINT")
	}()
}

// daemonizeSelf re-execs this binary with MONGOFUSE_IN_BACKGROUND=true in
// the background, waiting for it to signal success or failure the way
// the teacher's gcsfuse CLI backgrounds itself for unattended mounts.
func daemonizeSelf(mountPoint string) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}

	env := append(os.Environ(), inBackgroundEnvVar+"=true")
	if err := daemonize.Run(path, os.Args[1:], env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof("mongofuse mounted successfully in the background at %s", mountPoint)
	return nil
}
