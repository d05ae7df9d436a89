package fat

import (
	"os"
	"sync"
	"time"

	"github.com/oksana-fs/fatfuse/internal/disk"
	"github.com/oksana-fs/fatfuse/internal/logger"
)

// Volume owns the backing device, the parsed boot parameters, the
// in-memory FAT and the root File, per spec.md §3. One Volume exists
// per mounted image; it is created at mount and torn down at unmount.
type Volume struct {
	mu sync.Mutex

	dev    *disk.Device
	bpb    *BPB
	table  *Table
	root   *File
	log    *logger.Logger

	readOnly bool
}

// Config carries the mount-time options that affect Volume behavior.
// It replaces the teacher's global mutable flags (spec.md §9 "explicit
// Config struct, no global mutable hide_log").
type Config struct {
	ReadOnly bool
	Logger   *logger.Logger
}

// Mount parses the boot sector, loads the first FAT copy into memory and
// constructs the root File, per spec.md §4.2.
func Mount(dev *disk.Device, cfg Config) (*Volume, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.New(os.Stderr, logger.InfoLevel)
	}

	boot := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(boot, 0); err != nil {
		return nil, wrapErr(KindIO, "read boot sector", err)
	}
	bpb, err := ParseBootSector(boot)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, bpb.FATBytes)
	if _, err := dev.ReadAt(raw, int64(bpb.FATStart)); err != nil {
		return nil, wrapErr(KindIO, "read FAT", err)
	}
	table := NewTable(raw)

	v := &Volume{
		dev:      dev,
		bpb:      bpb,
		table:    table,
		log:      log,
		readOnly: cfg.ReadOnly,
	}

	v.root = &File{
		volume:       v,
		name:         "",
		path:         "/",
		isDir:        true,
		startCluster: bpb.RootCluster,
	}

	log.Debugf("mounted %s: %d clusters, %d bytes/cluster, root cluster %d",
		dev.Path(), bpb.ClusterCount, bpb.BytesPerCluster, bpb.RootCluster)

	return v, nil
}

// BPB returns the volume's parsed boot parameters.
func (v *Volume) BPB() *BPB { return v.bpb }

// Root returns the volume's root directory File.
func (v *Volume) Root() *File { return v.root }

// ReadOnly reports whether the volume was mounted read-only.
func (v *Volume) ReadOnly() bool { return v.readOnly }

// TotalBytes and FreeBytes report overall volume capacity, used by
// cmd/cmd/mount.go's post-mount log line (spec.md's Non-goals exclude
// a statfs operation, but capacity reporting at mount time is not a
// filesystem operation and is harmless ambient logging).
func (v *Volume) TotalBytes() uint64 {
	return uint64(v.bpb.ClusterCount) * v.bpb.BytesPerCluster
}

func (v *Volume) FreeBytes() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var free uint32
	for c := uint32(2); c < v.bpb.ClusterCount+2; c++ {
		if v.table.Get(c) == FATFree {
			free++
		}
	}
	return uint64(free) * v.bpb.BytesPerCluster
}

// readCluster reads one full cluster's bytes off the backing device.
func (v *Volume) readCluster(cluster uint32) ([]byte, error) {
	buf := make([]byte, v.bpb.BytesPerCluster)
	off := v.bpb.ClusterToOffset(cluster)
	if _, err := v.dev.ReadAt(buf, int64(off)); err != nil {
		return nil, wrapErr(KindIO, "read cluster", err)
	}
	return buf, nil
}

// writeCluster writes one full cluster's bytes to the backing device.
func (v *Volume) writeCluster(cluster uint32, data []byte) error {
	off := v.bpb.ClusterToOffset(cluster)
	if _, err := v.dev.WriteAt(data, int64(off)); err != nil {
		return wrapErr(KindIO, "write cluster", err)
	}
	return nil
}

// readChain concatenates every cluster in the chain starting at start.
func (v *Volume) readChain(start uint32) ([]byte, error) {
	clusters := v.table.ChainClusters(start)
	out := make([]byte, 0, len(clusters)*int(v.bpb.BytesPerCluster))
	for _, c := range clusters {
		data, err := v.readCluster(c)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// allocate reserves n clusters and flushes the in-memory FAT to every
// on-disk copy, per spec.md §3 ("writes are flushed to every FAT copy
// on disk").
func (v *Volume) allocate(n uint32) (uint32, error) {
	first, err := v.table.Allocate(n)
	if err != nil {
		return 0, err
	}
	if err := v.flushFAT(); err != nil {
		return 0, err
	}
	return first, nil
}

func (v *Volume) extend(start uint32, n uint32) (uint32, error) {
	first, err := v.table.Extend(start, n)
	if err != nil {
		return 0, err
	}
	if err := v.flushFAT(); err != nil {
		return 0, err
	}
	return first, nil
}

func (v *Volume) free(start uint32) error {
	v.table.Free(start)
	return v.flushFAT()
}

// flushFAT writes the in-memory FAT out to every FAT copy on disk.
func (v *Volume) flushFAT() error {
	raw := v.table.Bytes()
	for i := uint32(0); i < v.bpb.NumFATs; i++ {
		off := v.bpb.FATStart + uint64(i)*v.bpb.FATBytes
		if _, err := v.dev.WriteAt(raw, int64(off)); err != nil {
			return wrapErr(KindIO, "flush FAT copy", err)
		}
	}
	return nil
}

// newDirectoryCluster allocates one cluster for a brand-new
// subdirectory and seeds it with "." (pointing at itself) and ".."
// (pointing at parentCluster) entries, per spec.md §4.6's mkdir
// contract ("allocate first cluster of the new directory; initialize
// it with `.` and `..` entries").
func (v *Volume) newDirectoryCluster(parentCluster uint32) (uint32, error) {
	selfCluster, err := v.allocate(1)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, v.bpb.BytesPerCluster)
	now := time.Now()
	dot := &Dentry{Attr: AttrDir, FirstCluster: selfCluster, CreateTime: now, ModifyTime: now, AccessTime: now}
	dotdot := &Dentry{Attr: AttrDir, FirstCluster: parentCluster, CreateTime: now, ModifyTime: now, AccessTime: now}
	copy(buf[0:dentrySize], encodeShortDentry(dot, dotName()))
	copy(buf[dentrySize:2*dentrySize], encodeShortDentry(dotdot, dotDotName()))

	if err := v.writeCluster(selfCluster, buf); err != nil {
		return 0, err
	}
	return selfCluster, nil
}

// writeDentryAt writes a single 32-byte directory slot to disk at its
// cluster/index, following the chain when the index runs past the
// first cluster. It is used by File's timestamp/size/attr write-back
// paths (spec.md §4.4) and by InsertChild/DeleteChild.
func (v *Volume) writeDentryAt(pos slotPos, raw []byte) error {
	perCluster := int(v.bpb.BytesPerCluster) / dentrySize
	cluster := pos.cluster
	idx := pos.index
	for idx >= perCluster {
		next := v.table.Get(cluster)
		if IsEndOfChain(next) || next == 0 {
			return newErr(KindIO, "dentry slot index out of chain range")
		}
		cluster = next
		idx -= perCluster
	}
	off := v.bpb.ClusterToOffset(cluster) + uint64(idx*dentrySize)
	if _, err := v.dev.WriteAt(raw, int64(off)); err != nil {
		return wrapErr(KindIO, "write dentry", err)
	}
	return nil
}
