package disk

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Round_Trip(t *testing.T) {
	for _, codec := range []CompressionType{CompressionNone, CompressionLZ4, CompressionSnappy} {
		src := NewMemDiskManager()
		numPages := 8
		pages := make([][]byte, 0)
		for i := 0; i < numPages; i++ {
			pid := src.NewPage()
			data := make([]byte, PageSize)
			// half of the pages compress well, half do not
			if i%2 == 0 {
				copy(data, bytes.Repeat([]byte("perch"), 100))
			} else {
				rand.Read(data)
			}
			require.NoError(t, src.WritePage(data, pid))
			pages = append(pages, data)
		}

		var buf bytes.Buffer
		require.NoError(t, WriteSnapshot(&buf, src, uint64(numPages), codec))

		dst := NewMemDiskManager()
		lastPageID, err := ReadSnapshot(&buf, dst)
		require.NoError(t, err)
		assert.Equal(t, uint64(numPages), lastPageID)

		read := make([]byte, PageSize)
		for i, want := range pages {
			require.NoError(t, dst.ReadPage(uint64(i+1), read))
			assert.Equal(t, want, read)
		}
	}
}

func TestSnapshot_Rejects_Garbage(t *testing.T) {
	dst := NewMemDiskManager()
	_, err := ReadSnapshot(bytes.NewReader(bytes.Repeat([]byte{42}, 64)), dst)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshot_Checksum_Catches_Corruption(t *testing.T) {
	src := NewMemDiskManager()
	pid := src.NewPage()
	data := make([]byte, PageSize)
	rand.Read(data)
	require.NoError(t, src.WritePage(data, pid))

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, src, 1, CompressionNone))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	dst := NewMemDiskManager()
	_, err := ReadSnapshot(bytes.NewReader(corrupted), dst)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}
