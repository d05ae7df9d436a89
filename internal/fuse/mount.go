//go:build !linux
// +build !linux

package fuse

import (
	"fmt"

	"github.com/oksana-fs/fatfuse/internal/fat"
	"github.com/oksana-fs/fatfuse/internal/logger"
)

// Mount reports that FUSE mounting is unavailable on this platform.
// bazil.org/fuse's kernel bridge is Linux-only (see spec.md §1's
// FUSE-kernel-bridge black box); every other component in this
// repository is portable.
func Mount(mountpoint string, volume *fat.Volume, cfg Config, log *logger.Logger) error {
	return fmt.Errorf("FUSE mount is only supported on Linux")
}
