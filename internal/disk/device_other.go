//go:build !linux
// +build !linux

package disk

import (
	"fmt"
	"os"
)

func getBlockDeviceSectorSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("disk: block device sector size probing is only supported on linux")
}

func getBlockDeviceSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("disk: block device size probing is only supported on linux")
}
