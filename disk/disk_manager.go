package disk

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// PageSize is the size of both on-disk pages and in-memory frames. All io is done in multiples of it.
const PageSize int = 4096

// InvalidPageID is the sentinel for a page id that does not name a page. Page 0 is never handed out
// by the allocator so the zero value of a page id slot is always invalid.
const InvalidPageID uint64 = 0

type IDiskManager interface {
	WritePage(data []byte, pageId uint64) error
	ReadPage(pageId uint64, dest []byte) error

	// NewPage allocates a page id. Allocation is sequential and monotonic; freed ids are not reused.
	NewPage() (pageId uint64)

	// FreePage releases a page id. It is a bookkeeping operation only, the page's bytes stay in the file.
	FreePage(pageId uint64)

	Close() error
}

var _ IDiskManager = &Manager{}

type Manager struct {
	file       *os.File
	filename   string
	lastPageId uint64
	freed      map[uint64]struct{}
	mu         sync.Mutex
}

// NewDiskManager opens or creates a single file database. Second return value is true when the file
// is created by this call.
func NewDiskManager(file string) (*Manager, bool, error) {
	d := Manager{}
	d.filename = file
	d.freed = make(map[uint64]struct{})

	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, false, err
	}

	d.file = f
	stats, err := f.Stat()
	if err != nil {
		return nil, false, err
	}

	filesize := stats.Size()
	if filesize == 0 {
		// page 0 is reserved so that the zero page id can act as the invalid sentinel
		d.lastPageId = 0
		return &d, true, nil
	}

	d.lastPageId = uint64((int(filesize) / PageSize) - 1)
	return &d, false, nil
}

func (d *Manager) WritePage(data []byte, pageId uint64) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	_, err := d.file.WriteAt(data, int64(PageSize)*int64(pageId))
	if err != nil {
		return err
	}

	return nil
}

func (d *Manager) ReadPage(pageId uint64, dest []byte) error {
	if len(dest) != PageSize {
		return fmt.Errorf("destination buffer must be exactly %d bytes, got %d", PageSize, len(dest))
	}

	n, err := d.file.ReadAt(dest, int64(PageSize)*int64(pageId))
	if err == io.EOF {
		// the page was allocated but never synced. its content is all zeroes.
		for i := n; i < len(dest); i++ {
			dest[i] = 0
		}
		return nil
	}

	return err
}

func (d *Manager) NewPage() (pageId uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastPageId++
	return d.lastPageId
}

func (d *Manager) FreePage(pageId uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.freed[pageId] = struct{}{}
}

// LastPageID returns the largest page id handed out so far.
func (d *Manager) LastPageID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastPageId
}

func (d *Manager) Close() error {
	return d.file.Close()
}
