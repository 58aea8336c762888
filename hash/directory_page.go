package hash

import (
	"encoding/binary"
	"fmt"

	"perch/disk"
)

/*
 * Directory page format:
 *  --------------------------------------------------------------------------------------------
 *  | MaxDepth (4) | GlobalDepth (4) | LocalDepths (2^MaxDepth x 1) | BucketPageIds (2^MaxDepth x 8) |
 *  --------------------------------------------------------------------------------------------
 */

// MaxDirectoryDepth is the largest directory depth whose arrays still fit in one page.
const MaxDirectoryDepth = 8

const directoryBaseSize = 8

// directoryPage is a view over the latched content of a directory page.
type directoryPage struct {
	data []byte
}

func initDirectoryPage(data []byte, maxDepth uint32) directoryPage {
	d := directoryPage{data: data}
	binary.BigEndian.PutUint32(data, maxDepth)
	binary.BigEndian.PutUint32(data[4:], 0)
	for i := uint32(0); i < 1<<maxDepth; i++ {
		d.SetLocalDepth(i, 0)
		d.SetBucketPageId(i, disk.InvalidPageID)
	}
	return d
}

func (d directoryPage) MaxDepth() uint32 {
	return binary.BigEndian.Uint32(d.data)
}

func (d directoryPage) GlobalDepth() uint32 {
	return binary.BigEndian.Uint32(d.data[4:])
}

func (d directoryPage) setGlobalDepth(depth uint32) {
	binary.BigEndian.PutUint32(d.data[4:], depth)
}

// Size is the number of addressable directory slots, 2^GlobalDepth.
func (d directoryPage) Size() uint32 {
	return 1 << d.GlobalDepth()
}

func (d directoryPage) MaxSize() uint32 {
	return 1 << d.MaxDepth()
}

// HashToBucketIndex routes on the lowest GlobalDepth bits of hash.
func (d directoryPage) HashToBucketIndex(hash uint32) uint32 {
	return hash & (d.Size() - 1)
}

func (d directoryPage) GetBucketPageId(idx uint32) uint64 {
	d.boundsCheck(idx)
	return binary.BigEndian.Uint64(d.data[directoryBaseSize+d.MaxSize()+8*idx:])
}

func (d directoryPage) SetBucketPageId(idx uint32, pageId uint64) {
	d.boundsCheck(idx)
	binary.BigEndian.PutUint64(d.data[directoryBaseSize+d.MaxSize()+8*idx:], pageId)
}

func (d directoryPage) GetLocalDepth(idx uint32) uint32 {
	d.boundsCheck(idx)
	return uint32(d.data[directoryBaseSize+idx])
}

func (d directoryPage) SetLocalDepth(idx uint32, depth uint32) {
	d.boundsCheck(idx)
	d.data[directoryBaseSize+idx] = byte(depth)
}

func (d directoryPage) boundsCheck(idx uint32) {
	if idx >= d.MaxSize() {
		panic(fmt.Sprintf("directory index out of range: %v, max size: %v", idx, d.MaxSize()))
	}
}

// GetLocalDepthMask masks a hash or index down to the bits that distinguish idx's bucket.
func (d directoryPage) GetLocalDepthMask(idx uint32) uint32 {
	return (1 << d.GetLocalDepth(idx)) - 1
}

// GetSplitImageIndex keeps the lowest local-depth bits of idx and flips the highest of them, so the
// result is the lowest slot of the split image. Only meaningful while the local depth of idx is
// positive.
func (d directoryPage) GetSplitImageIndex(idx uint32) uint32 {
	ld := d.GetLocalDepth(idx)
	if ld == 0 {
		panic(fmt.Sprintf("split image of a depth zero bucket requested, idx: %v", idx))
	}
	return (idx & d.GetLocalDepthMask(idx)) ^ (1 << (ld - 1))
}

// IncrGlobalDepth doubles the directory by mirroring the first half of both arrays into the newly
// revealed second half, so every new slot names the same bucket as its image with the high bit
// cleared.
func (d directoryPage) IncrGlobalDepth() {
	gd := d.GlobalDepth()
	if gd >= d.MaxDepth() {
		return
	}

	half := uint32(1) << gd
	for i := uint32(0); i < half; i++ {
		d.SetBucketPageId(half+i, d.GetBucketPageId(i))
		d.SetLocalDepth(half+i, d.GetLocalDepth(i))
	}
	d.setGlobalDepth(gd + 1)
}

func (d directoryPage) DecrGlobalDepth() {
	if gd := d.GlobalDepth(); gd > 0 {
		d.setGlobalDepth(gd - 1)
	}
}

// CanShrink reports whether halving the directory would lose nothing, which is the case exactly
// when no slot's local depth has reached the global depth.
func (d directoryPage) CanShrink() bool {
	gd := d.GlobalDepth()
	if gd == 0 {
		return false
	}
	for i := uint32(0); i < d.Size(); i++ {
		if d.GetLocalDepth(i) == gd {
			return false
		}
	}
	return true
}

func (d directoryPage) IncrLocalDepth(idx uint32) {
	if ld := d.GetLocalDepth(idx); ld < d.GlobalDepth() {
		d.SetLocalDepth(idx, ld+1)
	}
}

func (d directoryPage) DecrLocalDepth(idx uint32) {
	if ld := d.GetLocalDepth(idx); ld > 0 {
		d.SetLocalDepth(idx, ld-1)
	}
}

// verifyIntegrity panics when the directory's depth bookkeeping is inconsistent: every local depth
// must be bounded by the global depth, and all slots that agree on the lowest local-depth bits must
// name the same bucket at the same depth.
func (d directoryPage) verifyIntegrity() {
	gd := d.GlobalDepth()
	if gd > d.MaxDepth() {
		panic(fmt.Sprintf("global depth %v exceeds max depth %v", gd, d.MaxDepth()))
	}

	for i := uint32(0); i < d.Size(); i++ {
		ld := d.GetLocalDepth(i)
		if ld > gd {
			panic(fmt.Sprintf("local depth %v at slot %v exceeds global depth %v", ld, i, gd))
		}

		canonical := i & ((1 << ld) - 1)
		if d.GetBucketPageId(i) != d.GetBucketPageId(canonical) || d.GetLocalDepth(canonical) != ld {
			panic(fmt.Sprintf("slot %v disagrees with its canonical slot %v", i, canonical))
		}
	}
}
