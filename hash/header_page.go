package hash

import (
	"encoding/binary"

	"perch/disk"
)

/*
 * Header page format:
 *  ------------------------------------------------------
 *  | MaxDepth (4) | DirectoryPageIds (2^MaxDepth x 8) |
 *  ------------------------------------------------------
 *
 * The header routes on the uppermost MaxDepth bits of a hash. MaxDepth is immutable after init.
 */

// MaxHeaderDepth is the largest header depth whose directory id array still fits in one page.
const MaxHeaderDepth = 8

const headerBaseSize = 4

// headerPage is a view over the latched content of a header page.
type headerPage struct {
	data []byte
}

func initHeaderPage(data []byte, maxDepth uint32) headerPage {
	h := headerPage{data: data}
	binary.BigEndian.PutUint32(data, maxDepth)
	for i := uint32(0); i < 1<<maxDepth; i++ {
		h.SetDirectoryPageId(i, disk.InvalidPageID)
	}
	return h
}

func (h headerPage) MaxDepth() uint32 {
	return binary.BigEndian.Uint32(h.data)
}

// HashToDirectoryIndex routes on the uppermost MaxDepth bits of hash.
func (h headerPage) HashToDirectoryIndex(hash uint32) uint32 {
	maxDepth := h.MaxDepth()
	if maxDepth == 0 {
		return 0
	}
	return hash >> (32 - maxDepth)
}

func (h headerPage) GetDirectoryPageId(idx uint32) uint64 {
	return binary.BigEndian.Uint64(h.data[headerBaseSize+8*idx:])
}

func (h headerPage) SetDirectoryPageId(idx uint32, pageId uint64) {
	binary.BigEndian.PutUint64(h.data[headerBaseSize+8*idx:], pageId)
}

func (h headerPage) MaxSize() uint32 {
	return 1 << h.MaxDepth()
}
