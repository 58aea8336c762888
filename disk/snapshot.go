package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the codec pages are compressed with inside a snapshot.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

const snapshotMagic uint32 = 0x50524348

var ErrCorruptSnapshot = errors.New("snapshot is corrupt")

/*
 * Snapshot format:
 *  -------------------------------------------------
 *  | Magic (4) | LastPageID (8) | page records ... |
 *  -------------------------------------------------
 *
 *  Page record format (size in bytes):
 *  ---------------------------------------------------------------------
 *  | PageID (8) | Codec (1) | CompressedSize (4) | CRC (4) | data ... |
 *  ---------------------------------------------------------------------
 *
 * CRC is computed over the uncompressed page content.
 */

// WriteSnapshot streams every page in [1, lastPageID] through the chosen codec into w. Pages whose
// compressed form would not be smaller are stored raw. Caller must make sure frames are synced to
// the disk manager first, see buffer.BufferPool.FlushAll.
func WriteSnapshot(w io.Writer, dm IDiskManager, lastPageID uint64, codec CompressionType) error {
	var head [12]byte
	binary.BigEndian.PutUint32(head[0:], snapshotMagic)
	binary.BigEndian.PutUint64(head[4:], lastPageID)
	if _, err := w.Write(head[:]); err != nil {
		return err
	}

	page := make([]byte, PageSize)
	for pid := uint64(1); pid <= lastPageID; pid++ {
		if err := dm.ReadPage(pid, page); err != nil {
			return fmt.Errorf("snapshot read of page %d failed: %w", pid, err)
		}

		compressed, usedCodec, err := compressPage(page, codec)
		if err != nil {
			return err
		}

		var rec [17]byte
		binary.BigEndian.PutUint64(rec[0:], pid)
		rec[8] = byte(usedCodec)
		binary.BigEndian.PutUint32(rec[9:], uint32(len(compressed)))
		binary.BigEndian.PutUint32(rec[13:], crc32.ChecksumIEEE(page))
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
		if _, err := w.Write(compressed); err != nil {
			return err
		}
	}

	return nil
}

// ReadSnapshot restores a snapshot produced by WriteSnapshot into dm and returns the last page id
// recorded in it.
func ReadSnapshot(r io.Reader, dm IDiskManager) (uint64, error) {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, err
	}
	if binary.BigEndian.Uint32(head[0:]) != snapshotMagic {
		return 0, ErrCorruptSnapshot
	}
	lastPageID := binary.BigEndian.Uint64(head[4:])

	page := make([]byte, PageSize)
	for {
		var rec [17]byte
		if _, err := io.ReadFull(r, rec[:]); err == io.EOF {
			return lastPageID, nil
		} else if err != nil {
			return 0, err
		}

		pid := binary.BigEndian.Uint64(rec[0:])
		codec := CompressionType(rec[8])
		compressedSize := binary.BigEndian.Uint32(rec[9:])
		sum := binary.BigEndian.Uint32(rec[13:])

		if int(compressedSize) > PageSize {
			return 0, ErrCorruptSnapshot
		}
		compressed := make([]byte, compressedSize)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return 0, err
		}

		if err := decompressPage(compressed, page, codec); err != nil {
			return 0, err
		}
		if crc32.ChecksumIEEE(page) != sum {
			return 0, fmt.Errorf("checksum mismatch on page %d: %w", pid, ErrCorruptSnapshot)
		}

		if err := dm.WritePage(page, pid); err != nil {
			return 0, err
		}
	}
}

func compressPage(page []byte, codec CompressionType) ([]byte, CompressionType, error) {
	switch codec {
	case CompressionNone:
		return page, CompressionNone, nil
	case CompressionLZ4:
		compressed := make([]byte, lz4.CompressBlockBound(len(page)))
		n, err := lz4.CompressBlock(page, compressed, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if n == 0 || n >= len(page) {
			// incompressible, store raw
			return page, CompressionNone, nil
		}
		return compressed[:n], CompressionLZ4, nil
	case CompressionSnappy:
		compressed := snappy.Encode(nil, page)
		if len(compressed) >= len(page) {
			return page, CompressionNone, nil
		}
		return compressed, CompressionSnappy, nil
	default:
		return nil, 0, fmt.Errorf("unsupported compression type: %d", codec)
	}
}

func decompressPage(compressed, dest []byte, codec CompressionType) error {
	switch codec {
	case CompressionNone:
		if len(compressed) != PageSize {
			return ErrCorruptSnapshot
		}
		copy(dest, compressed)
		return nil
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(compressed, dest)
		if err != nil {
			return fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if n != PageSize {
			return ErrCorruptSnapshot
		}
		return nil
	case CompressionSnappy:
		decompressed, err := snappy.Decode(nil, compressed)
		if err != nil {
			return fmt.Errorf("snappy decompression failed: %w", err)
		}
		if len(decompressed) != PageSize {
			return ErrCorruptSnapshot
		}
		copy(dest, decompressed)
		return nil
	default:
		return fmt.Errorf("unsupported compression type: %d", codec)
	}
}
