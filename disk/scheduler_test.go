package disk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Should_Complete_Scheduled_Requests(t *testing.T) {
	dm := NewMemDiskManager()
	s := NewScheduler(dm, nil)
	defer s.Close()

	pid := dm.NewPage()
	data := make([]byte, PageSize)
	copy(data, "scheduled write")

	writeDone := s.CreatePromise()
	s.Schedule(&Request{IsWrite: true, Data: data, PageID: pid, Callback: writeDone})
	require.NoError(t, <-writeDone)

	read := make([]byte, PageSize)
	readDone := s.CreatePromise()
	s.Schedule(&Request{IsWrite: false, Data: read, PageID: pid, Callback: readDone})
	require.NoError(t, <-readDone)

	assert.Equal(t, data, read)
}

func TestScheduler_Requests_On_Same_Page_Complete_In_Submission_Order(t *testing.T) {
	dm := NewMemDiskManager()
	s := NewScheduler(dm, nil)
	defer s.Close()

	pid := dm.NewPage()
	promises := make([]Promise, 0)
	buffers := make([][]byte, 0)
	for i := 0; i < 10; i++ {
		data := make([]byte, PageSize)
		copy(data, fmt.Sprintf("version %d", i))
		p := s.CreatePromise()
		s.Schedule(&Request{IsWrite: true, Data: data, PageID: pid, Callback: p})
		promises = append(promises, p)
		buffers = append(buffers, data)
	}

	for _, p := range promises {
		require.NoError(t, <-p)
	}

	// the last submitted write wins
	read := make([]byte, PageSize)
	readDone := s.CreatePromise()
	s.Schedule(&Request{IsWrite: false, Data: read, PageID: pid, Callback: readDone})
	require.NoError(t, <-readDone)
	assert.Equal(t, buffers[9], read)
}

func TestScheduler_Close_Drains_The_Queue(t *testing.T) {
	dm := NewMemDiskManager()
	s := NewScheduler(dm, nil)

	pids := make([]uint64, 0)
	for i := 0; i < requestQueueSize/2; i++ {
		pid := dm.NewPage()
		data := make([]byte, PageSize)
		data[0] = byte(i + 1)
		s.Schedule(&Request{IsWrite: true, Data: data, PageID: pid, Callback: s.CreatePromise()})
		pids = append(pids, pid)
	}

	s.Close()

	read := make([]byte, PageSize)
	for i, pid := range pids {
		require.NoError(t, dm.ReadPage(pid, read))
		assert.Equal(t, byte(i+1), read[0])
	}
}

var errBrokenDisk = errors.New("broken disk")

type brokenDiskManager struct {
	*MemDiskManager
}

func (b *brokenDiskManager) WritePage(data []byte, pageId uint64) error {
	return errBrokenDisk
}

func TestScheduler_Propagates_Disk_Errors_And_Keeps_Running(t *testing.T) {
	dm := &brokenDiskManager{MemDiskManager: NewMemDiskManager()}
	s := NewScheduler(dm, nil)
	defer s.Close()

	data := make([]byte, PageSize)
	writeDone := s.CreatePromise()
	s.Schedule(&Request{IsWrite: true, Data: data, PageID: 1, Callback: writeDone})
	assert.ErrorIs(t, <-writeDone, errBrokenDisk)

	// the worker survives the failure and serves further requests
	read := make([]byte, PageSize)
	readDone := s.CreatePromise()
	s.Schedule(&Request{IsWrite: false, Data: read, PageID: 1, Callback: readDone})
	assert.NoError(t, <-readDone)
}
