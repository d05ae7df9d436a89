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
package disk

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// DefaultSectorSize is used when the sector size of a device or image
// cannot be determined.
const DefaultSectorSize = 512

// Device is a byte-addressable, seekable backing store for a mounted
// volume: either a regular image file or a raw block device. It is the
// only component that talks directly to the kernel file descriptor;
// every other layer treats it as an opaque offset-addressable store.
type Device struct {
	path       string
	file       *os.File
	readOnly   bool
	isBlockDev bool
	sectorSize int64
	size       int64
}

// Open opens path for use as a mounted volume's backing store. It tries
// read-write first, falling back to read-only, mirroring the
// try-RW-then-RO probing the teacher's disk layer performs.
func Open(path string, readOnly bool) (*Device, error) {
	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil && !readOnly {
		f, err = os.OpenFile(path, os.O_RDONLY, 0)
		readOnly = true
	}
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}

	d := &Device{
		path:       path,
		file:       f,
		readOnly:   readOnly,
		isBlockDev: info.Mode()&os.ModeDevice != 0,
		sectorSize: DefaultSectorSize,
	}

	if d.isBlockDev && runtime.GOOS == "linux" {
		if sz, err := getBlockDeviceSectorSize(f); err == nil {
			d.sectorSize = sz
		}
		if sz, err := getBlockDeviceSize(f); err == nil {
			d.size = sz
		}
	}
	if d.size == 0 {
		sz, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("disk: determine size of %s: %w", path, err)
		}
		d.size = sz
	}
	return d, nil
}

// Path returns the backing file or device path the volume was mounted from.
func (d *Device) Path() string { return d.path }

// ReadOnly reports whether the device was opened without write access.
func (d *Device) ReadOnly() bool { return d.readOnly }

// SectorSize returns the device's logical sector size, or DefaultSectorSize
// when it could not be determined (regular image files).
func (d *Device) SectorSize() int64 { return d.sectorSize }

// Size returns the total addressable size of the device in bytes.
func (d *Device) Size() int64 { return d.size }

// ReadAt reads len(p) bytes starting at offset off. A read wholly or
// partially past the end of the device fails.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("disk: read past end of device at offset %d", off)
	}
	return d.file.ReadAt(p, off)
}

// WriteAt writes all of p at offset off, all-or-nothing. It extends the
// tracked device size when the write lands past the current end — this
// only happens for regular image files, since a block device has a
// fixed size.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, fmt.Errorf("disk: device %s is read-only", d.path)
	}
	n, err := d.file.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if end := off + int64(n); end > d.size {
		d.size = end
	}
	return n, nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return d.file.Close()
}
