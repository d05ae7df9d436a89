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
package fat

import (
	"bytes"
	"encoding/binary"
)

// BootSectorSize is the on-disk size of the FAT32 boot sector (BPB).
const BootSectorSize = 512

// File/Directory Attributes (bit flags), preserved from the on-disk
// dentry layout.
const (
	AttrReadOnly = 0x01
	AttrHidden   = 0x02
	AttrSystem   = 0x04
	AttrVolumeID = 0x08
	AttrDir      = 0x10
	AttrArchive  = 0x20

	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// DeletedMarker is written to the first byte of a short dentry's name
// to mark it as deleted.
const DeletedMarker = 0xE5

// FreeMarker identifies a short dentry slot that has never been used.
const FreeMarker = 0x00

// FAT32 end-of-chain and free markers for 32-bit FAT entries. Only the
// low 28 bits are significant; the top 4 bits are preserved on write.
const (
	fatEntryMask  = 0x0FFFFFFF
	FATFree       = 0x00000000
	FATEndOfChain = 0x0FFFFFF8
	FATBad        = 0x0FFFFFF7
)

// bootSector mirrors the FAT32 BIOS Parameter Block, trimmed to the
// fields spec.md §6 says the driver reads (FAT12/16-only fields are
// dropped per the Non-goals in spec.md §1).
type bootSector struct {
	jump        [3]byte
	oemName     [8]byte
	sectorSize  uint16
	secPerClus  uint8
	reservedSec uint16
	numFATs     uint8
	rootEntries uint16 // unused on FAT32, kept for signature layout
	sectors16   uint16
	media       uint8
	fatSize16   uint16 // unused on FAT32
	secPerTrack uint16
	numHeads    uint16
	hiddenSec   uint32
	sectors32   uint32

	fatSize32   uint32
	extFlags    uint16
	fsVersion   uint16
	rootCluster uint32
	fsInfoSec   uint16
	backupBoot  uint16
	reserved12  [12]byte
	driveNum    uint8
	reserved1   uint8
	bootSig     uint8
	volumeID    uint32
	volumeLabel [11]byte
	fsType      [8]byte
}

// BPB is the decoded, driver-facing view of the boot sector: derived
// offsets the rest of C2 consumes are precomputed here once at mount.
type BPB struct {
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	SectorsPerFAT     uint32
	RootCluster       uint32
	TotalSectors      uint32
	VolumeLabel       string

	BytesPerCluster uint64
	FATStart        uint64 // byte offset of the first FAT copy
	FATBytes        uint64 // byte length of one FAT copy
	DataStart       uint64 // byte offset of cluster 2
	ClusterCount    uint32 // number of data clusters (2..ClusterCount+1)
}

// ParseBootSector decodes and validates a 512-byte FAT32 boot sector.
func ParseBootSector(data []byte) (*BPB, error) {
	if len(data) < BootSectorSize {
		return nil, newErr(KindIO, "boot sector shorter than 512 bytes")
	}
	if data[510] != 0x55 || data[511] != 0xAA {
		return nil, newErr(KindIO, "invalid boot sector signature")
	}

	var bs bootSector
	if err := binary.Read(bytes.NewReader(data[:90]), binary.LittleEndian, &bs); err != nil {
		return nil, wrapErr(KindIO, "decode boot sector", err)
	}

	if bs.sectorSize == 0 || bs.secPerClus == 0 {
		return nil, newErr(KindIO, "boot sector reports zero sector or cluster size")
	}
	if bs.fatSize32 == 0 {
		return nil, newErr(KindIO, "not a FAT32 volume: FAT32 size field is zero")
	}

	bpb := &BPB{
		BytesPerSector:    uint32(bs.sectorSize),
		SectorsPerCluster: uint32(bs.secPerClus),
		ReservedSectors:   uint32(bs.reservedSec),
		NumFATs:           uint32(bs.numFATs),
		SectorsPerFAT:     bs.fatSize32,
		RootCluster:       bs.rootCluster,
		VolumeLabel:       string(bytes.TrimRight(bs.volumeLabel[:], " ")),
	}
	if bs.sectors32 != 0 {
		bpb.TotalSectors = bs.sectors32
	} else {
		bpb.TotalSectors = uint32(bs.sectors16)
	}

	bpb.BytesPerCluster = uint64(bpb.BytesPerSector) * uint64(bpb.SectorsPerCluster)
	bpb.FATStart = uint64(bpb.ReservedSectors) * uint64(bpb.BytesPerSector)
	bpb.FATBytes = uint64(bpb.SectorsPerFAT) * uint64(bpb.BytesPerSector)
	bpb.DataStart = bpb.FATStart + uint64(bpb.NumFATs)*bpb.FATBytes

	dataSectors := bpb.TotalSectors - bpb.ReservedSectors - bpb.NumFATs*bpb.SectorsPerFAT
	bpb.ClusterCount = dataSectors / bpb.SectorsPerCluster

	return bpb, nil
}

// ClusterToOffset converts a cluster number to its byte offset within
// the device, per spec.md §4.2.
func (b *BPB) ClusterToOffset(cluster uint32) uint64 {
	return b.DataStart + uint64(cluster-2)*b.BytesPerCluster
}
