package hash

import (
	"encoding/binary"
	"fmt"

	"perch/common"
	"perch/disk"
)

/*
 * Bucket page format:
 *  ----------------------------------------------------------
 *  | MaxSize (4) | Size (4) | Entry_0 | Entry_1 | ... |
 *  ----------------------------------------------------------
 *
 * Entries are fixed width: serialized key followed by serialized value. Entries are kept dense,
 * removal moves the last entry into the hole.
 */

const bucketBaseSize = 8

// bucketPage is a view over the latched content of a bucket page.
type bucketPage struct {
	data   []byte
	keySer KeySerializer
	valSer ValueSerializer
}

// maxBucketSize returns how many entries of the given serializers fit in one page.
func maxBucketSize(keySer KeySerializer, valSer ValueSerializer) uint32 {
	return uint32((disk.PageSize - bucketBaseSize) / (keySer.Size() + valSer.Size()))
}

func initBucketPage(data []byte, maxSize uint32, keySer KeySerializer, valSer ValueSerializer) bucketPage {
	if maxSize == 0 || maxSize > maxBucketSize(keySer, valSer) {
		panic(fmt.Sprintf("bucket max size %v does not fit a page, at most %v entries", maxSize, maxBucketSize(keySer, valSer)))
	}

	b := bucketPage{data: data, keySer: keySer, valSer: valSer}
	binary.BigEndian.PutUint32(data, maxSize)
	binary.BigEndian.PutUint32(data[4:], 0)
	return b
}

func castBucketPage(data []byte, keySer KeySerializer, valSer ValueSerializer) bucketPage {
	return bucketPage{data: data, keySer: keySer, valSer: valSer}
}

func (b bucketPage) MaxSize() uint32 {
	return binary.BigEndian.Uint32(b.data)
}

func (b bucketPage) Size() uint32 {
	return binary.BigEndian.Uint32(b.data[4:])
}

func (b bucketPage) setSize(size uint32) {
	binary.BigEndian.PutUint32(b.data[4:], size)
}

func (b bucketPage) IsFull() bool {
	return b.Size() == b.MaxSize()
}

func (b bucketPage) IsEmpty() bool {
	return b.Size() == 0
}

func (b bucketPage) entrySize() int {
	return b.keySer.Size() + b.valSer.Size()
}

func (b bucketPage) entryOffset(i uint32) int {
	return bucketBaseSize + int(i)*b.entrySize()
}

func (b bucketPage) KeyAt(i uint32) common.Key {
	key, err := b.keySer.Deserialize(b.data[b.entryOffset(i):])
	common.PanicIfErr(err)
	return key
}

func (b bucketPage) ValueAt(i uint32) interface{} {
	val, err := b.valSer.Deserialize(b.data[b.entryOffset(i)+b.keySer.Size():])
	common.PanicIfErr(err)
	return val
}

// Lookup linear scans the entries with the key comparator.
func (b bucketPage) Lookup(key common.Key) (interface{}, bool) {
	for i := uint32(0); i < b.Size(); i++ {
		if common.EqualKeys(b.KeyAt(i), key) {
			return b.ValueAt(i), true
		}
	}
	return nil, false
}

// Insert appends the entry. Returns false when the bucket is full. Uniqueness is the caller's
// concern.
func (b bucketPage) Insert(key common.Key, value interface{}) (bool, error) {
	size := b.Size()
	if size == b.MaxSize() {
		return false, nil
	}

	keyData, err := b.keySer.Serialize(key)
	if err != nil {
		return false, err
	}
	valData, err := b.valSer.Serialize(value)
	if err != nil {
		return false, err
	}

	offset := b.entryOffset(size)
	copy(b.data[offset:], keyData)
	copy(b.data[offset+b.keySer.Size():], valData)
	b.setSize(size + 1)
	return true, nil
}

// Remove deletes the entry with the given key by moving the last entry into its place. Returns
// false when the key is absent.
func (b bucketPage) Remove(key common.Key) bool {
	size := b.Size()
	for i := uint32(0); i < size; i++ {
		if common.EqualKeys(b.KeyAt(i), key) {
			last := size - 1
			if i != last {
				copy(b.data[b.entryOffset(i):b.entryOffset(i)+b.entrySize()], b.data[b.entryOffset(last):])
			}
			b.setSize(last)
			return true
		}
	}
	return false
}

// Clear drops all entries. Capacity is kept.
func (b bucketPage) Clear() {
	b.setSize(0)
}
