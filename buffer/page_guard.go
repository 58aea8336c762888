package buffer

import (
	"perch/disk/pages"
	"perch/transaction"
)

// PageGuard owns exactly one unit of pin on a page. Dropping it gives the pin back; dropping twice
// is a no-op. Guards must not be copied, ownership moves with the pointer. Dropping a guard never
// performs io.
type PageGuard struct {
	pool     *BufferPool
	page     *pages.RawPage
	dirty    bool
	released bool
}

// GetData returns the page's content. Callers holding only a basic guard must synchronize access
// themselves; read and write guards hold the page latch for their lifetime.
func (g *PageGuard) GetData() []byte {
	return g.page.GetData()
}

func (g *PageGuard) GetPageId() uint64 {
	return g.page.GetPageId()
}

// MarkDirty makes the eventual unpin record the page as modified.
func (g *PageGuard) MarkDirty() {
	g.dirty = true
}

func (g *PageGuard) Drop() {
	if g.released {
		return
	}
	g.released = true
	g.pool.Unpin(g.page.GetPageId(), g.dirty)
}

// UpgradeWrite acquires the page's exclusive latch and converts the guard into a write guard. The
// receiver is consumed; only the returned guard may be used afterwards.
func (g *PageGuard) UpgradeWrite() *WritePageGuard {
	if g.released {
		panic("upgrading a dropped page guard")
	}
	g.released = true
	g.page.WLatch()
	return &WritePageGuard{guard: PageGuard{pool: g.pool, page: g.page, dirty: true}}
}

// ReadPageGuard additionally holds the page's shared latch.
type ReadPageGuard struct {
	guard PageGuard
}

func (g *ReadPageGuard) GetData() []byte {
	return g.guard.page.GetData()
}

func (g *ReadPageGuard) GetPageId() uint64 {
	return g.guard.page.GetPageId()
}

func (g *ReadPageGuard) Drop() {
	if g.guard.released {
		return
	}
	g.guard.page.RUnLatch()
	g.guard.Drop()
}

// WritePageGuard additionally holds the page's exclusive latch. The page is unpinned dirty since a
// write guard exists to mutate it.
type WritePageGuard struct {
	guard PageGuard
}

func (g *WritePageGuard) GetData() []byte {
	return g.guard.page.GetData()
}

func (g *WritePageGuard) GetPageId() uint64 {
	return g.guard.page.GetPageId()
}

func (g *WritePageGuard) Drop() {
	if g.guard.released {
		return
	}
	g.guard.page.WUnlatch()
	g.guard.Drop()
}

// FetchPageBasic pins the page and wraps it in a guard without latching it.
func (b *BufferPool) FetchPageBasic(pageId uint64) (*PageGuard, error) {
	p, err := b.GetPage(pageId, AccessUnknown)
	if err != nil {
		return nil, err
	}
	return &PageGuard{pool: b, page: p}, nil
}

// FetchPageRead pins the page and acquires its shared latch.
func (b *BufferPool) FetchPageRead(pageId uint64) (*ReadPageGuard, error) {
	p, err := b.GetPage(pageId, AccessLookup)
	if err != nil {
		return nil, err
	}
	p.RLatch()
	return &ReadPageGuard{guard: PageGuard{pool: b, page: p}}, nil
}

// FetchPageWrite pins the page and acquires its exclusive latch.
func (b *BufferPool) FetchPageWrite(pageId uint64) (*WritePageGuard, error) {
	p, err := b.GetPage(pageId, AccessLookup)
	if err != nil {
		return nil, err
	}
	p.WLatch()
	return &WritePageGuard{guard: PageGuard{pool: b, page: p, dirty: true}}, nil
}

// NewPageGuarded allocates a fresh page and wraps the pinned result in a basic guard.
func (b *BufferPool) NewPageGuarded(txn transaction.Transaction) (*PageGuard, error) {
	p, err := b.NewPage(txn)
	if err != nil {
		return nil, err
	}
	return &PageGuard{pool: b, page: p, dirty: true}, nil
}
