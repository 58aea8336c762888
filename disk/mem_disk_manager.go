package disk

import (
	"sync"
)

var _ IDiskManager = &MemDiskManager{}

// MemDiskManager is an in memory implementation of IDiskManager. It is used in tests and anywhere
// a database that does not survive the process is enough.
type MemDiskManager struct {
	pages      map[uint64][]byte
	lastPageId uint64
	freed      map[uint64]struct{}
	mu         sync.Mutex
}

func NewMemDiskManager() *MemDiskManager {
	return &MemDiskManager{
		pages: make(map[uint64][]byte),
		freed: make(map[uint64]struct{}),
	}
}

func (m *MemDiskManager) WritePage(data []byte, pageId uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageId]
	if !ok {
		p = make([]byte, PageSize)
		m.pages[pageId] = p
	}
	copy(p, data)
	return nil
}

func (m *MemDiskManager) ReadPage(pageId uint64, dest []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageId]
	if !ok {
		// never written, content is all zeroes
		for i := range dest {
			dest[i] = 0
		}
		return nil
	}

	copy(dest, p)
	return nil
}

func (m *MemDiskManager) NewPage() (pageId uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPageId++
	return m.lastPageId
}

func (m *MemDiskManager) FreePage(pageId uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freed[pageId] = struct{}{}
}

func (m *MemDiskManager) Close() error {
	return nil
}
