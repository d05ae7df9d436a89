// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oksana-fs/fatfuse/internal/disk"
	"github.com/oksana-fs/fatfuse/internal/fat"
	"github.com/oksana-fs/fatfuse/internal/fuse"
	"github.com/oksana-fs/fatfuse/internal/logger"
	"github.com/oksana-fs/fatfuse/pkg/util/format"
)

func DefineMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <image_path> <mountpoint>",
		Short: "Mount a FAT32 image or block device at a mountpoint",
		Long: `The 'mount' command parses the boot sector of a FAT32 image (or raw block
device), constructs the volume and serves it through FUSE at the given
mountpoint until a termination signal (SIGINT/SIGTERM) is received.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunMount,
	}

	cmd.Flags().Bool("hide-log", true, "hide the /fs.log activity log from listings and direct I/O")
	cmd.Flags().Bool("read-only", false, "open the image read-only; write/create/delete operations fail with EIO")
	cmd.Flags().String("log-level", "info", "driver log verbosity: debug, info, warn, error")
	return cmd
}

func RunMount(cmd *cobra.Command, args []string) error {
	imagePath, mountpoint := args[0], args[1]

	readOnly, _ := cmd.Flags().GetBool("read-only")
	hideLog, _ := cmd.Flags().GetBool("hide-log")
	logLevel, _ := cmd.Flags().GetString("log-level")

	dev, err := disk.Open(imagePath, readOnly)
	if err != nil {
		return fmt.Errorf("open %s: %w", imagePath, err)
	}
	defer dev.Close()

	lg := logger.New(cmd.OutOrStdout(), logger.ParseLevel(strings.ToUpper(logLevel)))

	volume, err := fat.Mount(dev, fat.Config{ReadOnly: dev.ReadOnly(), Logger: lg})
	if err != nil {
		return fmt.Errorf("mount %s: %w", imagePath, err)
	}

	lg.Infof("mounted %s: %s total, %s free", imagePath,
		format.FormatBytes(int64(volume.TotalBytes())), format.FormatBytes(int64(volume.FreeBytes())))

	return fuse.Mount(mountpoint, volume, fuse.Config{HideLog: hideLog}, lg)
}
