package buffer

import (
	"encoding/json"
	"math/rand"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/common"
	"perch/disk"
	"perch/transaction"
)

type teststruct struct {
	Num int
	Val string
}

func tempDBName(t *testing.T) string {
	t.Helper()
	id, _ := uuid.NewUUID()
	return id.String() + ".perch"
}

func TestBuffer_Pool_Should_Write_Pages_To_Disk(t *testing.T) {
	dbName := tempDBName(t)
	os.Remove(dbName)
	defer common.Remove(dbName)

	b, err := NewBufferPool(dbName, 2, 2, nil)
	require.NoError(t, err)
	defer b.Close()

	// write 50 pages with 2 sized buffer pool
	pageIDs := make([]uint64, 0)
	for i := 0; i < 50; i++ {
		x := teststruct{Num: i, Val: "selam"}
		serialized, _ := json.Marshal(x)
		serialized = append(serialized, byte('\000'))

		p, err := b.NewPage(transaction.TxnNoop())
		require.NoError(t, err)
		pageIDs = append(pageIDs, p.GetPageId())

		copy(p.GetData(), serialized)
		b.Unpin(p.GetPageId(), true)
	}

	// read each page and validate content
	for i, pageID := range pageIDs {
		p, err := b.GetPage(pageID, AccessUnknown)
		require.NoError(t, err)

		x := teststruct{}
		byteArr := p.GetData()
		for j := 0; j < len(byteArr); j++ {
			if byteArr[j] == '\000' {
				byteArr = byteArr[:j]
				break
			}
		}
		require.NoError(t, json.Unmarshal(byteArr, &x))
		assert.Equal(t, i, x.Num)
		assert.Equal(t, "selam", x.Val)
		b.Unpin(p.GetPageId(), false)
	}
}

func TestBuffer_Pool_Should_Not_Corrupt_Pages(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(2, NewLRUKReplacer(2, 2), dm, nil)

	numPagesToTest := 50

	// generate random page sized byte arrays
	randomPages := make([][]byte, 0)
	for i := 0; i < numPagesToTest; i++ {
		randomPage := make([]byte, disk.PageSize)
		rand.Read(randomPage)
		randomPages = append(randomPages, randomPage)
	}

	pageIDs := make([]uint64, 0)
	for i := 0; i < numPagesToTest; i++ {
		p, err := b.NewPage(transaction.TxnNoop())
		require.NoError(t, err)
		pageIDs = append(pageIDs, p.GetPageId())

		n := copy(p.GetData(), randomPages[i])
		require.Equal(t, n, len(randomPages[i]))

		b.Unpin(p.GetPageId(), true)
	}

	// read each page and validate content
	for i := 0; i < numPagesToTest; i++ {
		p, err := b.GetPage(pageIDs[i], AccessUnknown)
		require.NoError(t, err)

		assert.Equal(t, randomPages[i], p.GetData())
		b.Unpin(p.GetPageId(), false)
	}
}

func TestBuffer_Pool_Should_Fail_When_All_Frames_Are_Pinned(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(3, NewLRUKReplacer(3, 2), dm, nil)

	pinned := make([]uint64, 0)
	for i := 0; i < 3; i++ {
		p, err := b.NewPage(transaction.TxnNoop())
		require.NoError(t, err)
		pinned = append(pinned, p.GetPageId())
	}

	_, err := b.NewPage(transaction.TxnNoop())
	assert.ErrorIs(t, err, ErrPoolExhausted)

	// unpinning one page frees exactly one frame
	require.True(t, b.Unpin(pinned[0], false))
	p, err := b.NewPage(transaction.TxnNoop())
	require.NoError(t, err)
	assert.NotZero(t, p.GetPageId())
}

func TestBuffer_Pool_Should_Write_Back_Dirty_Victims(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(2, NewLRUKReplacer(2, 2), dm, nil)

	p, err := b.NewPage(transaction.TxnNoop())
	require.NoError(t, err)
	dirtyPageId := p.GetPageId()
	copy(p.GetData(), "page content that must survive eviction")
	b.Unpin(dirtyPageId, true)

	// churn through the pool so the dirty page is evicted
	for i := 0; i < 4; i++ {
		p, err := b.NewPage(transaction.TxnNoop())
		require.NoError(t, err)
		b.Unpin(p.GetPageId(), false)
	}

	p, err = b.GetPage(dirtyPageId, AccessUnknown)
	require.NoError(t, err)
	assert.Equal(t, "page content that must survive eviction", string(p.GetData()[:39]))
	b.Unpin(dirtyPageId, false)
}

func TestBuffer_Pool_Unpin_Semantics(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(2, NewLRUKReplacer(2, 2), dm, nil)

	p, err := b.NewPage(transaction.TxnNoop())
	require.NoError(t, err)

	assert.False(t, b.Unpin(42424242, false))

	assert.True(t, b.Unpin(p.GetPageId(), false))
	// pin count is already zero
	assert.False(t, b.Unpin(p.GetPageId(), false))
}

func TestBuffer_Pool_Dirty_Flag_Is_Sticky(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(2, NewLRUKReplacer(2, 2), dm, nil)

	p, err := b.NewPage(transaction.TxnNoop())
	require.NoError(t, err)
	pid := p.GetPageId()

	_, err = b.GetPage(pid, AccessUnknown)
	require.NoError(t, err)

	b.Unpin(pid, true)
	// a clean unpin after a dirty one must not wash the flag away
	b.Unpin(pid, false)
	assert.True(t, p.IsDirty())
}

func TestBuffer_Pool_Flush_Page(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(2, NewLRUKReplacer(2, 2), dm, nil)

	assert.ErrorIs(t, b.FlushPage(disk.InvalidPageID), ErrInvalidPageID)
	assert.ErrorIs(t, b.FlushPage(42424242), ErrPageNotFoundInPageMap)

	p, err := b.NewPage(transaction.TxnNoop())
	require.NoError(t, err)
	copy(p.GetData(), "flushed content")
	b.Unpin(p.GetPageId(), true)

	// flushing a pinned page is allowed too, so pin it back first
	_, err = b.GetPage(p.GetPageId(), AccessUnknown)
	require.NoError(t, err)
	require.NoError(t, b.FlushPage(p.GetPageId()))
	assert.False(t, p.IsDirty())

	read := make([]byte, disk.PageSize)
	require.NoError(t, dm.ReadPage(p.GetPageId(), read))
	assert.Equal(t, "flushed content", string(read[:15]))
}

func TestBuffer_Pool_Flush_All(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(4, NewLRUKReplacer(4, 2), dm, nil)

	pageIDs := make([]uint64, 0)
	for i := 0; i < 4; i++ {
		p, err := b.NewPage(transaction.TxnNoop())
		require.NoError(t, err)
		p.GetData()[0] = byte(i + 1)
		pageIDs = append(pageIDs, p.GetPageId())
		b.Unpin(p.GetPageId(), true)
	}

	require.NoError(t, b.FlushAll())

	read := make([]byte, disk.PageSize)
	for i, pid := range pageIDs {
		require.NoError(t, dm.ReadPage(pid, read))
		assert.Equal(t, byte(i+1), read[0])
	}
}

func TestBuffer_Pool_Delete_Page(t *testing.T) {
	dm := disk.NewMemDiskManager()
	b := NewBufferPoolWithDM(2, NewLRUKReplacer(2, 2), dm, nil)

	// deleting an unknown page succeeds trivially
	assert.True(t, b.DeletePage(42424242))

	p, err := b.NewPage(transaction.TxnNoop())
	require.NoError(t, err)
	pid := p.GetPageId()

	// pinned pages cannot be deleted
	assert.False(t, b.DeletePage(pid))

	b.Unpin(pid, false)
	emptyBefore := b.EmptyFrameSize()
	assert.True(t, b.DeletePage(pid))
	assert.Equal(t, emptyBefore+1, b.EmptyFrameSize())

	_, err = b.GetPage(pid, AccessUnknown)
	require.NoError(t, err) // the id still resolves on disk, content is zeroed
}
