package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/drivefs/drivefs/internal/config"
	"github.com/drivefs/drivefs/internal/metrics"
	"github.com/drivefs/drivefs/internal/mount"
	"github.com/drivefs/drivefs/internal/storage/mem"
	"github.com/drivefs/drivefs/internal/storage/s3"
	"github.com/drivefs/drivefs/pkg/api"
	"github.com/drivefs/drivefs/pkg/health"
	"github.com/drivefs/drivefs/pkg/status"
	"github.com/drivefs/drivefs/pkg/types"
)

const (
	unmountTimeout  = 30 * time.Second
	shutdownTimeout = 60 * time.Second
	statsInterval   = 15 * time.Second
)

var mountCmd = &cobra.Command{
	Use:   "mount [location] <mountpoint>",
	Short: "Mount a drive and serve it until interrupted",
	Long: `Mounts a drive at the given mount point and serves it in the
foreground until the process is interrupted or the mount is detached.

The drive comes from the configuration file, or from a location argument
that overrides it:

  mem://                an empty in-memory drive
  s3://bucket           the root of an S3 bucket
  s3://bucket/prefix    a key prefix inside a bucket

Examples:
  drivefs mount mem:// /mnt/scratch
  drivefs mount s3://photos /mnt/photos
  drivefs mount s3://backups/2026 /mnt/backups --allow-other
  drivefs mount /mnt/drive -c drive.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMount,
}

var (
	mountAllowOther bool
	mountVolname    string
	mountDebug      bool
)

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "Allow other users to access the mount")
	mountCmd.Flags().StringVar(&mountVolname, "volname", "", "Volume name shown by the macOS Finder")
	mountCmd.Flags().BoolVar(&mountDebug, "debug", false, "Log every kernel request")
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) == 2 {
		if err := applyLocation(&cfg.Drive, args[0]); err != nil {
			return err
		}
	}

	mountPoint, err := filepath.Abs(args[len(args)-1])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	cfg.Mount.MountPath = mountPoint

	if cmd.Flags().Changed("allow-other") {
		cfg.Mount.AllowOther = mountAllowOther
	}
	if cmd.Flags().Changed("volname") {
		cfg.Mount.VolumeName = mountVolname
	}
	if cmd.Flags().Changed("debug") {
		cfg.Mount.Debug = mountDebug
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	closeLog, err := cfg.Logging.Apply(log.StandardLogger())
	if err != nil {
		return err
	}
	if closeLog != nil {
		defer closeLog()
	}

	return serveMount(cfg)
}

// serveMount builds the drive and its monitoring surface, mounts it, and
// holds the process until a signal or an external detach takes the mount
// down. Staged writes are flushed before it returns.
func serveMount(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.API.Enabled && cfg.API.EnableMetrics,
		Namespace: "drivefs",
	})
	if err != nil {
		return fmt.Errorf("failed to build metrics collector: %w", err)
	}

	drive, err := buildDrive(ctx, cfg, collector)
	if err != nil {
		return err
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("drive")
	statusTracker := status.NewTracker(status.Config{HealthTracker: healthTracker})

	mgr := mount.NewManager(drive, cfg.Mount, nil, collector)
	result, err := mgr.Mount(ctx)
	if err != nil {
		if serr := shutdownDrive(drive); serr != nil {
			log.WithError(serr).Warn("drive shutdown after failed mount")
		}
		return err
	}
	collector.SetMounted(true)

	// The mount's Ready barrier already passed once.
	healthTracker.RecordSuccess("drive")
	go healthTracker.StartChecks(ctx, func(ctx context.Context, component string) error {
		return drive.Ready(ctx)
	})

	if collector.Enabled() {
		if src, ok := drive.(statsSource); ok {
			go refreshDriveStats(ctx, src, collector)
		}
	}

	op, _ := statusTracker.StartOperation(ctx, "mount", map[string]interface{}{
		"backend":    cfg.Drive.Backend,
		"location":   driveLocation(&cfg.Drive),
		"mount_path": result.MountPath,
	})

	var apiServer *api.Server
	if cfg.API.Enabled {
		var gatherer prometheus.Gatherer
		var operations func() map[string]interface{}
		if collector.Enabled() {
			gatherer = collector.Registry()
			operations = collector.GetMetrics
		}
		apiServer = api.NewServer(cfg.API.ServerConfig, api.Options{
			Status:     statusTracker,
			Health:     healthTracker,
			Gatherer:   gatherer,
			Operations: operations,
			Drive:      driveDebug(drive),
			Info: api.Info{
				Service:   "drivefs",
				Version:   version,
				Backend:   cfg.Drive.Backend,
				Location:  driveLocation(&cfg.Drive),
				MountPath: result.MountPath,
			},
		})
		apiServer.StartBackground()
	}

	fmt.Printf("Mounted %s at %s\n", driveLocation(&cfg.Drive), result.MountPath)
	fmt.Printf("Drive key: %s\n", result.Key)
	if cfg.API.Enabled {
		fmt.Printf("Monitoring API: http://%s\n", cfg.API.Address)
	}
	fmt.Println("Press Ctrl-C to unmount.")

	watcher := mount.NewWatcher(mgr, 0)
	watcher.Start()

	detached := make(chan struct{})
	go func() {
		mgr.Wait()
		close(detached)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var interrupted bool
	select {
	case sig := <-sigCh:
		fmt.Printf("\nCaught %s, unmounting\n", sig)
		interrupted = true
	case <-detached:
		fmt.Println("Filesystem was detached externally, shutting down")
	}
	watcher.Stop()

	var unmountErr error
	if interrupted {
		unmountCtx, unmountCancel := context.WithTimeout(context.Background(), unmountTimeout)
		unmountErr = mgr.Unmount(unmountCtx)
		unmountCancel()
	}

	if err := statusTracker.CompleteOperation(op.ID); err != nil {
		log.WithError(err).Debug("closing mount operation record")
	}
	collector.SetMounted(false)
	cancel()

	if apiServer != nil {
		apiCtx, apiCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(apiCtx); err != nil {
			log.WithError(err).Warn("monitoring server shutdown")
		}
		apiCancel()
	}

	shutdownErr := shutdownDrive(drive)
	if unmountErr != nil {
		return unmountErr
	}
	return shutdownErr
}

// statsSource is the activity surface a drive may expose beyond the core
// interface.
type statsSource interface {
	Stats() types.DriveStats
	CacheStats() types.CacheStats
}

// refreshDriveStats keeps the collector's gauges tracking the drive until
// ctx ends.
func refreshDriveStats(ctx context.Context, src statsSource, collector *metrics.Collector) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.UpdateDriveStats(src.Stats())
			collector.UpdateCacheStats(src.CacheStats())
		}
	}
}

// driveDebug renders the drive's extended activity counters for the
// monitoring server. Only the S3 drive has them; other backends leave the
// endpoint disabled.
func driveDebug(drive types.Drive) func() map[string]interface{} {
	sd, ok := drive.(*s3.Drive)
	if !ok {
		return nil
	}
	return func() map[string]interface{} {
		return map[string]interface{}{
			"drive":   sd.Stats(),
			"cache":   sd.CacheStats(),
			"staging": sd.StagingStats(),
			"pool":    sd.PoolStats(),
			"circuit": sd.CircuitState().String(),
		}
	}
}

// buildDrive constructs the backend named by the configuration.
func buildDrive(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (types.Drive, error) {
	switch cfg.Drive.Backend {
	case "mem":
		return mem.New(mem.Config{})
	case "s3":
		return s3.New(ctx, &cfg.Drive.S3, s3.Options{
			Cache:   cfg.Cache,
			Buffer:  cfg.Buffer,
			Circuit: cfg.Circuit,
			Metrics: collector,
			Logger:  log.StandardLogger(),
		})
	default:
		return nil, fmt.Errorf("unknown drive backend %q", cfg.Drive.Backend)
	}
}

// shutdownDrive flushes and releases drives that hold state beyond the
// mount, such as staged S3 writes. The memory drive has nothing to flush.
func shutdownDrive(drive types.Drive) error {
	s, ok := drive.(interface {
		Shutdown(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("drive shutdown: %w", err)
	}
	return nil
}

// applyLocation overrides the drive section from a location argument.
func applyLocation(drive *config.DriveConfig, location string) error {
	switch {
	case location == "mem" || location == "mem://":
		drive.Backend = "mem"
		return nil
	case strings.HasPrefix(location, "s3://"):
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
		if bucket == "" {
			return fmt.Errorf("invalid drive location %q: missing bucket", location)
		}
		drive.Backend = "s3"
		drive.S3.Bucket = bucket
		drive.S3.Prefix = prefix
		return nil
	default:
		return fmt.Errorf("invalid drive location %q (expected mem:// or s3://bucket[/prefix])", location)
	}
}

// driveLocation renders the drive's storage location for display.
func driveLocation(drive *config.DriveConfig) string {
	if drive.Backend != "s3" {
		return drive.Backend + "://"
	}
	loc := "s3://" + drive.S3.Bucket
	if prefix := strings.Trim(drive.S3.Prefix, "/"); prefix != "" {
		loc += "/" + prefix
	}
	return loc
}
