//go:build linux
// +build linux

package disk

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// getBlockDeviceSectorSize queries the logical block size of a Linux
// block device via the BLKSSZGET ioctl.
func getBlockDeviceSectorSize(f *os.File) (int64, error) {
	sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, err
	}
	return int64(sz), nil
}

// getBlockDeviceSize queries the total size in bytes of a Linux block
// device via the BLKGETSIZE64 ioctl. BLKGETSIZE64 reports a 64-bit
// byte count, which golang.org/x/sys/unix has no typed helper for, so
// the ioctl is issued directly as the teacher's disk layer already did
// for the equivalent raw syscall.
func getBlockDeviceSize(f *os.File) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}
