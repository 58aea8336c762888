package hash

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"perch/common"
)

// KeySerializer converts keys to and from their fixed width on disk representation. Size is the
// exact number of bytes every serialized key occupies in a bucket entry.
type KeySerializer interface {
	Serialize(key common.Key) ([]byte, error)
	Deserialize([]byte) (common.Key, error)
	Size() int
}

// ValueSerializer is the value counterpart of KeySerializer.
type ValueSerializer interface {
	Serialize(val interface{}) ([]byte, error)
	Deserialize([]byte) (interface{}, error)
	Size() int
}

// Hasher derives the 32 bit hash that drives header and directory routing. Implementations must be
// deterministic within a run; stability across runs is not required.
type Hasher interface {
	Hash(key common.Key) uint32
}

// XXHasher hashes the serialized form of a key with xxhash and keeps the lower 32 bits.
type XXHasher struct {
	Serializer KeySerializer
}

func (h XXHasher) Hash(key common.Key) uint32 {
	data, err := h.Serializer.Serialize(key)
	common.PanicIfErr(err)
	return uint32(xxhash.Sum64(data))
}

type Uint64Key uint64

func (k Uint64Key) Less(than common.Key) bool {
	return k < than.(Uint64Key)
}

type Uint64KeySerializer struct{}

func (s *Uint64KeySerializer) Serialize(key common.Key) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(key.(Uint64Key)))
	return buf, nil
}

func (s *Uint64KeySerializer) Deserialize(data []byte) (common.Key, error) {
	return Uint64Key(binary.BigEndian.Uint64(data)), nil
}

func (s *Uint64KeySerializer) Size() int {
	return 8
}

// BytesKey is a fixed width byte string key. Typical instantiations are 4, 8, 16, 32 or 64 bytes.
type BytesKey []byte

func (k BytesKey) Less(than common.Key) bool {
	return bytes.Compare(k, than.(BytesKey)) < 0
}

type BytesKeySerializer struct {
	Len int
}

func (s *BytesKeySerializer) Serialize(key common.Key) ([]byte, error) {
	k := key.(BytesKey)
	if len(k) > s.Len {
		return nil, fmt.Errorf("key is %d bytes, serializer holds at most %d", len(k), s.Len)
	}
	res := make([]byte, s.Len)
	copy(res, k)
	return res, nil
}

func (s *BytesKeySerializer) Deserialize(data []byte) (common.Key, error) {
	res := make(BytesKey, s.Len)
	copy(res, data[:s.Len])
	return res, nil
}

func (s *BytesKeySerializer) Size() int {
	return s.Len
}

// RID names a record by the page that holds it and its slot in that page.
type RID struct {
	PageID uint64
	Slot   uint16
}

type RIDValueSerializer struct{}

func (s *RIDValueSerializer) Serialize(val interface{}) ([]byte, error) {
	rid, ok := val.(RID)
	if !ok {
		return nil, fmt.Errorf("value is %T, not a RID", val)
	}
	buf := make([]byte, 10)
	binary.BigEndian.PutUint64(buf, rid.PageID)
	binary.BigEndian.PutUint16(buf[8:], rid.Slot)
	return buf, nil
}

func (s *RIDValueSerializer) Deserialize(data []byte) (interface{}, error) {
	return RID{
		PageID: binary.BigEndian.Uint64(data),
		Slot:   binary.BigEndian.Uint16(data[8:]),
	}, nil
}

func (s *RIDValueSerializer) Size() int {
	return 10
}
