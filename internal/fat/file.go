package fat

import (
	"strings"
	"time"
)

// File is the in-memory handle for one filesystem entity, directory or
// regular file, per spec.md §3. It is the unit C5 caches and C6
// operates on.
type File struct {
	volume *Volume

	path string
	name string

	attr         uint8
	startCluster uint32
	size         uint32
	shortRaw     [11]byte

	createTime time.Time
	modifyTime time.Time
	accessTime time.Time

	parentCluster uint32
	slotIndex     int

	isDir        bool
	childrenRead bool
	openCount    int
}

// newFileFromDentry builds a File for a child discovered while reading
// a directory, per spec.md §4.4 ("read_children... each returned File
// has parent_pos set to its dentry slot").
func newFileFromDentry(v *Volume, path string, d *Dentry, parentCluster uint32) *File {
	name := d.LongName
	if name == "" {
		name = d.ShortName
	}
	return &File{
		volume:        v,
		path:          path,
		name:          name,
		attr:          d.Attr,
		startCluster:  d.FirstCluster,
		size:          d.FileSize,
		shortRaw:      d.RawName,
		createTime:    d.CreateTime,
		modifyTime:    d.ModifyTime,
		accessTime:    d.AccessTime,
		parentCluster: parentCluster,
		slotIndex:     d.pos.index,
		isDir:         d.Attr&AttrDir != 0,
	}
}

func (f *File) Path() string { return f.path }
func (f *File) Name() string { return f.name }
func (f *File) Size() uint32 { return f.size }

// SlotIndex returns the directory-slot index of f's short entry within
// its parent's cluster chain, for callers that need to delete it.
func (f *File) SlotIndex() int { return f.slotIndex }

// IsDirectory reports the directory attribute bit, per spec.md §4.4.
func (f *File) IsDirectory() bool { return f.isDir }

func (f *File) IsHidden() bool { return f.attr&(AttrHidden|AttrSystem) == AttrHidden|AttrSystem }

func (f *File) ModTime() time.Time    { return f.modifyTime }
func (f *File) AccessTime() time.Time { return f.accessTime }
func (f *File) CreateTime() time.Time { return f.createTime }

// ChildrenRead reports whether this directory's children have already
// been enumerated, per spec.md §4.5's lazy-population rule.
func (f *File) ChildrenRead() bool { return f.childrenRead }

// ShortNames returns the 8.3 names already in use among this
// directory's current live children, for short-name collision
// avoidance during InsertChild.
func (f *File) ShortNames() (map[string]bool, error) {
	if !f.isDir {
		return nil, newErr(KindNotDirectory, "not a directory")
	}
	data, err := f.volume.readChain(f.startCluster)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool)
	for _, d := range readDirEntries(data) {
		used[strings.ToUpper(d.ShortName)] = true
	}
	return used, nil
}

// StartCluster returns f's first data cluster, or 0 if f has none yet.
func (f *File) StartCluster() uint32 { return f.startCluster }

// NewChildDirectoryCluster allocates and seeds the first cluster of a
// new subdirectory of f: "." refers to the new directory itself, ".."
// refers to f's own cluster (or 0 when f is the volume root, per the
// FAT32 convention that a first-level directory's parent reference is
// the reserved cluster 0 rather than the root cluster number), per
// spec.md §4.6's mkdir contract.
func (f *File) NewChildDirectoryCluster() (uint32, error) {
	parentRef := f.startCluster
	if f.path == "/" {
		parentRef = 0
	}
	return f.volume.newDirectoryCluster(parentRef)
}

func (f *File) pos() slotPos { return slotPos{cluster: f.parentCluster, index: f.slotIndex} }

func (f *File) dentry() *Dentry {
	return &Dentry{
		Attr:         f.attr,
		FirstCluster: f.startCluster,
		FileSize:     f.size,
		CreateTime:   f.createTime,
		ModifyTime:   f.modifyTime,
		AccessTime:   f.accessTime,
	}
}

// writeBack re-encodes f's dentry and writes it to its recorded slot,
// per spec.md §4.4's write-through-parent requirement.
func (f *File) writeBack() error {
	d := f.dentry()
	raw := encodeShortDentry(d, f.shortRaw)
	return f.volume.writeDentryAt(f.pos(), raw)
}

// clusterSpan returns how many clusters a file of f.size bytes
// currently occupies.
func (f *File) clusterSpan() uint32 {
	if f.size == 0 {
		return 0
	}
	bpc := f.volume.bpb.BytesPerCluster
	return uint32((uint64(f.size) + bpc - 1) / bpc)
}

// Pread reads min(n, size-offset) bytes starting at offset, per
// spec.md §4.4.
func (f *File) Pread(offset uint64, n uint32) ([]byte, error) {
	if offset > uint64(f.size) {
		return nil, nil
	}
	avail := uint64(f.size) - offset
	if uint64(n) > avail {
		n = uint32(avail)
	}
	if n == 0 {
		return nil, nil
	}

	data, err := f.volume.readChain(f.startCluster)
	if err != nil {
		return nil, err
	}
	if offset+uint64(n) > uint64(len(data)) {
		n = uint32(uint64(len(data)) - offset)
	}
	out := make([]byte, n)
	copy(out, data[offset:offset+uint64(n)])

	f.accessTime = time.Now()
	if err := f.writeBack(); err != nil {
		return nil, err
	}
	return out, nil
}

// Pwrite writes bytes at offset, extending the chain and file size as
// needed, per spec.md §4.4.
func (f *File) Pwrite(offset uint64, buf []byte) (uint32, error) {
	if offset > uint64(f.size) {
		return 0, newErr(KindOverflow, "write offset beyond file size")
	}
	if len(buf) == 0 {
		return 0, nil
	}

	needed := offset + uint64(len(buf))
	bpc := f.volume.bpb.BytesPerCluster
	neededClusters := uint32((needed + bpc - 1) / bpc)

	if neededClusters > f.clusterSpan() {
		start, err := f.volume.extend(f.startCluster, neededClusters)
		if err != nil {
			return 0, err
		}
		f.startCluster = start
	}

	data, err := f.volume.readChain(f.startCluster)
	if err != nil {
		return 0, err
	}
	if uint64(len(data)) < needed {
		grown := make([]byte, needed)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:needed], buf)

	if err := f.writeChainData(data); err != nil {
		return 0, err
	}

	if uint32(needed) > f.size {
		f.size = uint32(needed)
	}
	f.modifyTime = time.Now()
	if err := f.writeBack(); err != nil {
		return 0, err
	}
	return uint32(len(buf)), nil
}

// writeChainData writes data back out across f's current cluster
// chain, one cluster at a time.
func (f *File) writeChainData(data []byte) error {
	bpc := int(f.volume.bpb.BytesPerCluster)
	clusters := f.volume.table.ChainClusters(f.startCluster)
	for i, c := range clusters {
		start := i * bpc
		end := start + bpc
		var chunk []byte
		if start >= len(data) {
			chunk = make([]byte, bpc)
		} else if end > len(data) {
			chunk = make([]byte, bpc)
			copy(chunk, data[start:])
		} else {
			chunk = data[start:end]
		}
		if err := f.volume.writeCluster(c, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Truncate resizes f to newLen, per spec.md §4.4.
func (f *File) Truncate(newLen uint32) error {
	if newLen == f.size {
		return nil
	}

	if newLen == 0 {
		if f.startCluster != 0 {
			if err := f.volume.free(f.startCluster); err != nil {
				return err
			}
		}
		f.startCluster = 0
		f.size = 0
		f.modifyTime = time.Now()
		return f.writeBack()
	}

	if newLen < f.size {
		bpc := f.volume.bpb.BytesPerCluster
		keep := uint32((uint64(newLen) + bpc - 1) / bpc)
		clusters := f.volume.table.ChainClusters(f.startCluster)
		if keep == 0 {
			if err := f.volume.free(f.startCluster); err != nil {
				return err
			}
			f.startCluster = 0
		} else if keep < uint32(len(clusters)) {
			last := clusters[keep-1]
			freeFrom := clusters[keep]
			if err := f.volume.free(freeFrom); err != nil {
				return err
			}
			f.volume.table.set(last, FATEndOfChain)
			if err := f.volume.flushFAT(); err != nil {
				return err
			}
		}
		f.size = newLen
		f.modifyTime = time.Now()
		return f.writeBack()
	}

	// newLen > size: zero-fill extension via the pwrite path.
	pad := make([]byte, newLen-f.size)
	_, err := f.Pwrite(uint64(f.size), pad)
	return err
}

// Unlink frees f's cluster chain. The parent's dentry group removal is
// performed by the parent directory's DeleteChild, invoked by the
// tree/dispatcher layer that owns the parent directory data.
func (f *File) Unlink() error {
	if f.startCluster == 0 {
		return nil
	}
	return f.volume.free(f.startCluster)
}

// Hide sets the hidden and system attribute bits, per spec.md §4.4 and
// §4.7 (log-file hiding).
func (f *File) Hide() error {
	f.attr |= AttrHidden | AttrSystem
	return f.writeBack()
}

// SetTimes writes new access/modify timestamps and flushes the
// dentry, per spec.md §4.4.
func (f *File) SetTimes(atime, mtime time.Time) error {
	f.accessTime = atime
	f.modifyTime = mtime
	return f.writeBack()
}

// ReadChildren decodes the directory's cluster chain into child Files,
// per spec.md §4.3/§4.4. dirPath is the parent's normalized path, used
// to build each child's absolute path.
func (f *File) ReadChildren(dirPath string) ([]*File, error) {
	if !f.isDir {
		return nil, newErr(KindNotDirectory, "not a directory")
	}
	data, err := f.volume.readChain(f.startCluster)
	if err != nil {
		return nil, err
	}
	dentries := readDirEntries(data)

	children := make([]*File, 0, len(dentries))
	for _, d := range dentries {
		name := d.LongName
		if name == "" {
			name = d.ShortName
		}
		childPath := dirPath
		if childPath != "/" {
			childPath += "/"
		}
		childPath += name
		d.pos.cluster = f.startCluster
		children = append(children, newFileFromDentry(f.volume, childPath, d, f.startCluster))
	}
	f.childrenRead = true
	return children, nil
}

// rawSlotsInChain reads every slot of f's directory chain without
// stopping at the first free slot, so callers can find
// a run of FREE/deleted slots to reuse.
func (f *File) rawSlotsInChain() ([]byte, int, error) {
	data, err := f.volume.readChain(f.startCluster)
	if err != nil {
		return nil, 0, err
	}
	return data, len(data) / dentrySize, nil
}

// findFreeRun locates a run of `need` consecutive FREE-or-deleted
// slots in data, returning its starting slot index, or -1 if no run of
// that length exists.
func findFreeRun(data []byte, slotCount, need int) int {
	run := 0
	for i := 0; i < slotCount; i++ {
		raw := data[i*dentrySize : (i+1)*dentrySize]
		switch classifySlot(raw) {
		case slotFree, slotDeleted:
			run++
			if run >= need {
				return i - run + 1
			}
		default:
			run = 0
		}
	}
	return -1
}

// genShortName derives an 8.3 short name for longName, disambiguating
// against already-used names with the conventional NAME~N.EXT suffix.
func genShortName(longName string, used map[string]bool) [11]byte {
	base := longName
	ext := ""
	if i := lastIndexByte(longName, '.'); i >= 0 {
		base, ext = longName[:i], longName[i+1:]
	}
	base = sanitize83(base)
	ext = sanitize83(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	candidate := base
	if len(candidate) > 8 {
		candidate = candidate[:8]
	}

	var rawName [11]byte
	for i := range rawName {
		rawName[i] = ' '
	}

	tryName := candidate
	for n := 1; ; n++ {
		key := tryName
		if ext != "" {
			key = tryName + "." + ext
		}
		if !used[key] {
			copy(rawName[0:8], padTo(tryName, 8))
			copy(rawName[8:11], padTo(ext, 3))
			return rawName
		}
		suffix := itoa(n)
		keep := 8 - len(suffix) - 1
		if keep > len(base) {
			keep = len(base)
		}
		if keep < 0 {
			keep = 0
		}
		tryName = base[:keep] + "~" + suffix
	}
}

func sanitize83(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '.' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func padTo(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// dotName and dotDotName are the fixed 11-byte raw short names for the
// "." and ".." directory entries seeded by NewChildDirectoryCluster.
func dotName() [11]byte {
	var b [11]byte
	for i := range b {
		b[i] = ' '
	}
	b[0] = '.'
	return b
}

func dotDotName() [11]byte {
	var b [11]byte
	for i := range b {
		b[i] = ' '
	}
	b[0], b[1] = '.', '.'
	return b
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// InsertChild writes a new long-name+short-entry group into f's
// directory chain, extending the chain if no sufficiently large free
// run exists, per spec.md §4.3. existingShortNames guards against 8.3
// collisions among current siblings.
func (f *File) InsertChild(name string, attr uint8, startCluster, size uint32, existingShortNames map[string]bool) (*Dentry, error) {
	if !f.isDir {
		return nil, newErr(KindNotDirectory, "not a directory")
	}

	rawName := genShortName(name, existingShortNames)
	longName := ""
	if !shortNameMatchesLongName(name, rawName) {
		longName = name
	}

	now := time.Now()
	d := &Dentry{
		RawName:      rawName,
		Attr:         attr,
		FirstCluster: startCluster,
		FileSize:     size,
		CreateTime:   now,
		ModifyTime:   now,
		AccessTime:   now,
	}

	slots := encodeChildSlots(d, rawName, longName)
	need := len(slots)

	data, slotCount, err := f.rawSlotsInChain()
	if err != nil {
		return nil, err
	}

	start := findFreeRun(data, slotCount, need)
	if start < 0 {
		bpc := int(f.volume.bpb.BytesPerCluster)
		perCluster := bpc / dentrySize
		extraClusters := uint32((need + perCluster - 1) / perCluster)
		newStart, err := f.volume.extend(f.startCluster, uint32(slotCount/perCluster)+extraClusters)
		if err != nil {
			return nil, err
		}
		f.startCluster = newStart
		data, slotCount, err = f.rawSlotsInChain()
		if err != nil {
			return nil, err
		}
		start = findFreeRun(data, slotCount, need)
		if start < 0 {
			return nil, newErr(KindNoSpace, "no free directory slot after extension")
		}
	}

	// Write the long-name group first, the short entry last, per
	// spec.md §4.3 ("the short entry is written last so that a
	// partially visible group is interpreted as still-free preceding
	// entries").
	perCluster := int(f.volume.bpb.BytesPerCluster) / dentrySize
	for i, slot := range slots {
		idx := start + i
		cluster := f.clusterAtSlot(idx, perCluster)
		if err := f.volume.writeDentryAt(slotPos{cluster: cluster, index: idx % perCluster}, slot); err != nil {
			return nil, err
		}
	}

	d.pos = slotPos{cluster: f.startCluster, index: start + need - 1}
	return d, nil
}

// clusterAtSlot resolves the absolute slot index idx to the cluster
// number it falls in, within f's directory chain.
func (f *File) clusterAtSlot(idx, perCluster int) uint32 {
	clusters := f.volume.table.ChainClusters(f.startCluster)
	clusterOffset := idx / perCluster
	if clusterOffset < len(clusters) {
		return clusters[clusterOffset]
	}
	if len(clusters) > 0 {
		return clusters[len(clusters)-1]
	}
	return f.startCluster
}

// DeleteChild marks the short entry at slotIndex as deleted and clears
// the preceding long-name chain, per spec.md §4.3. It does not compact
// the directory.
func (f *File) DeleteChild(slotIndex int) error {
	perCluster := int(f.volume.bpb.BytesPerCluster) / dentrySize
	data, _, err := f.rawSlotsInChain()
	if err != nil {
		return err
	}

	deletedRaw := make([]byte, dentrySize)
	copy(deletedRaw, data[slotIndex*dentrySize:(slotIndex+1)*dentrySize])
	deletedRaw[0] = DeletedMarker
	cluster := f.clusterAtSlot(slotIndex, perCluster)
	if err := f.volume.writeDentryAt(slotPos{cluster: cluster, index: slotIndex % perCluster}, deletedRaw); err != nil {
		return err
	}

	zero := make([]byte, dentrySize)
	for i := slotIndex - 1; i >= 0; i-- {
		raw := data[i*dentrySize : (i+1)*dentrySize]
		if classifySlot(raw) != slotLongName {
			break
		}
		c := f.clusterAtSlot(i, perCluster)
		if err := f.volume.writeDentryAt(slotPos{cluster: c, index: i % perCluster}, zero); err != nil {
			return err
		}
	}
	return nil
}
