package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/drivefs/drivefs/internal/mount"
)

var unmountCmd = &cobra.Command{
	Use:     "unmount <mountpoint>",
	Aliases: []string{"umount"},
	Short:   "Detach a mounted drive",
	Long: `Force-detaches the filesystem at the given mount point.

The serving drivefs process notices the detach, flushes what it holds and
exits on its own. Interrupting that process is the cleaner way to unmount;
this command is for mounts whose process is gone or unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	mountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}

	if err := mount.Detach(mountPoint); err != nil {
		return err
	}

	fmt.Printf("Unmounted %s\n", mountPoint)
	return nil
}
