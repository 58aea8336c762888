package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"perch/disk"
	"perch/disk/pages"
	"perch/transaction"
)

var ErrPageNotFoundInPageMap = errors.New("page cannot be found in the page map")
var ErrInvalidPageID = errors.New("operation on the invalid page id")
var ErrPoolExhausted = errors.New("no free frame and no evictable frame in the pool")

type Pool interface {
	GetPage(pageId uint64, accessType AccessType) (*pages.RawPage, error)
	Unpin(pageId uint64, isDirty bool) bool
	FlushPage(pageId uint64) error
	FlushAll() error

	// NewPage creates a new page
	NewPage(txn transaction.Transaction) (page *pages.RawPage, err error)

	// DeletePage drops a page from the pool and releases its id. Returns false if the page is pinned.
	// Deleting a page that is not in the page map succeeds trivially.
	DeletePage(pageId uint64) bool

	// EmptyFrameSize returns the number of empty frames which do not hold data of any physical page
	EmptyFrameSize() int
}

var _ Pool = &BufferPool{}

// BufferPool owns a fixed array of frames and maps physical page ids onto them. One coarse mutex
// serializes every public operation end to end, including waits on io futures.
type BufferPool struct {
	poolSize    int
	frames      []*pages.RawPage
	pageMap     map[uint64]int // physical page_id => frame index which keeps that page
	emptyFrames []int          // list of indexes that point to empty frames in the pool
	Replacer    IReplacer
	DiskManager disk.IDiskManager
	scheduler   *disk.Scheduler
	lock        sync.Mutex
	l           *zap.Logger
	metrics     *poolMetrics
}

// NewBufferPool opens the db file and builds a pool of poolSize frames on it with an LRU-K replacer.
func NewBufferPool(dbFile string, poolSize, replacerK int, l *zap.Logger) (*BufferPool, error) {
	d, _, err := disk.NewDiskManager(dbFile)
	if err != nil {
		return nil, err
	}

	return NewBufferPoolWithDM(poolSize, NewLRUKReplacer(poolSize, replacerK), d, l), nil
}

func NewBufferPoolWithDM(poolSize int, replacer IReplacer, dm disk.IDiskManager, l *zap.Logger) *BufferPool {
	if l == nil {
		l = zap.NewNop()
	}

	emptyFrames := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		emptyFrames[i] = i
	}

	return &BufferPool{
		poolSize:    poolSize,
		frames:      make([]*pages.RawPage, poolSize),
		pageMap:     map[uint64]int{},
		emptyFrames: emptyFrames,
		Replacer:    replacer,
		DiskManager: dm,
		scheduler:   disk.NewScheduler(dm, l),
		lock:        sync.Mutex{},
		l:           l,
		metrics:     newPoolMetrics(),
	}
}

func (b *BufferPool) NewPage(txn transaction.Transaction) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	newPageId := b.DiskManager.NewPage()

	p := b.frames[frameIdx]
	p.Clear()
	p.PageId = newPageId
	p.PinCount = 1
	p.SetClean()

	b.pageMap[newPageId] = frameIdx
	b.Replacer.RecordAccess(frameIdx, AccessUnknown)
	b.Replacer.SetEvictable(frameIdx, false)
	return p, nil
}

func (b *BufferPool) GetPage(pageId uint64, accessType AccessType) (*pages.RawPage, error) {
	if pageId == disk.InvalidPageID {
		return nil, ErrInvalidPageID
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if frameIdx, ok := b.pageMap[pageId]; ok {
		b.metrics.hits.Inc()
		p := b.frames[frameIdx]
		p.IncrPinCount()
		b.Replacer.RecordAccess(frameIdx, accessType)
		b.Replacer.SetEvictable(frameIdx, false)
		return p, nil
	}

	b.metrics.misses.Inc()
	frameIdx, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[frameIdx]

	// read page content into the frame and wait until io finishes
	b.metrics.diskReads.Inc()
	promise := b.scheduler.CreatePromise()
	b.scheduler.Schedule(&disk.Request{IsWrite: false, Data: p.GetData(), PageID: pageId, Callback: promise})
	if err := <-promise; err != nil {
		// frame holds garbage now, give it back to the free list instead of leaving it mapped
		p.PageId = disk.InvalidPageID
		b.emptyFrames = append(b.emptyFrames, frameIdx)
		return nil, fmt.Errorf("ReadPage failed: %w", err)
	}

	p.PageId = pageId
	p.PinCount = 1
	p.SetClean()
	b.pageMap[pageId] = frameIdx
	b.Replacer.RecordAccess(frameIdx, accessType)
	b.Replacer.SetEvictable(frameIdx, false)
	return p, nil
}

func (b *BufferPool) Unpin(pageId uint64, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return false
	}

	p := b.frames[frameIdx]
	// dirty is sticky for the rest of the page's residency
	if isDirty {
		p.SetDirty()
	}

	if p.GetPinCount() <= 0 {
		return false
	}

	p.DecrPinCount()
	if p.GetPinCount() == 0 {
		b.Replacer.SetEvictable(frameIdx, true)
	}
	return true
}

// FlushPage syncs the page's current content to disk and clears its dirty flag. Flushing a pinned
// page is allowed.
func (b *BufferPool) FlushPage(pageId uint64) error {
	if pageId == disk.InvalidPageID {
		return ErrInvalidPageID
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return ErrPageNotFoundInPageMap
	}

	return b.flushFrame(b.frames[frameIdx])
}

// FlushAll syncs every frame currently holding a valid page to disk.
func (b *BufferPool) FlushAll() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, p := range b.frames {
		if p == nil || p.GetPageId() == disk.InvalidPageID {
			continue
		}
		if err := b.flushFrame(p); err != nil {
			return err
		}
	}
	return nil
}

func (b *BufferPool) flushFrame(p *pages.RawPage) error {
	b.metrics.diskWrites.Inc()
	promise := b.scheduler.CreatePromise()
	b.scheduler.Schedule(&disk.Request{IsWrite: true, Data: p.GetData(), PageID: p.GetPageId(), Callback: promise})
	if err := <-promise; err != nil {
		return fmt.Errorf("WritePage failed: %w", err)
	}

	p.SetClean()
	return nil
}

func (b *BufferPool) DeletePage(pageId uint64) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return true
	}

	p := b.frames[frameIdx]
	if p.GetPinCount() > 0 {
		return false
	}

	delete(b.pageMap, pageId)
	b.Replacer.Remove(frameIdx)
	b.emptyFrames = append(b.emptyFrames, frameIdx)

	p.Clear()
	p.PageId = disk.InvalidPageID
	p.PinCount = 0
	p.SetClean()

	b.DiskManager.FreePage(pageId)
	return true
}

func (b *BufferPool) EmptyFrameSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.emptyFrames)
}

// Registry exposes the pool's metric registry for scraping.
func (b *BufferPool) Registry() *prometheus.Registry {
	return b.metrics.registry
}

// Close flushes all frames and stops the scheduler worker.
func (b *BufferPool) Close() error {
	if err := b.FlushAll(); err != nil {
		return err
	}
	b.scheduler.Close()
	return b.DiskManager.Close()
}

// acquireFrame obtains an unmapped frame: from the free list when possible, by evicting a victim
// otherwise. A dirty victim is written back through the scheduler before its frame is reused.
// Caller must hold b.lock.
func (b *BufferPool) acquireFrame() (int, error) {
	if len(b.emptyFrames) > 0 {
		frameIdx := b.emptyFrames[0]
		b.emptyFrames = b.emptyFrames[1:]
		if b.frames[frameIdx] == nil {
			b.frames[frameIdx] = pages.NewRawPage(disk.InvalidPageID)
		}
		return frameIdx, nil
	}

	victimIdx, err := b.Replacer.ChooseVictim()
	if err != nil {
		if errors.Is(err, ErrNoVictim) {
			return 0, ErrPoolExhausted
		}
		return 0, err
	}

	victim := b.frames[victimIdx]
	if victim.GetPinCount() != 0 {
		panic(fmt.Sprintf("a page is chosen as victim while its pin count is not zero. pin count: %v, page_id: %v", victim.GetPinCount(), victim.GetPageId()))
	}

	b.metrics.evictions.Inc()
	if victim.IsDirty() {
		b.metrics.dirtyWriteBacks.Inc()
		if err := b.flushFrame(victim); err != nil {
			// roll back: the victim keeps its mapping and becomes evictable again
			b.Replacer.RecordAccess(victimIdx, AccessUnknown)
			b.Replacer.SetEvictable(victimIdx, true)
			return 0, err
		}
	}

	b.l.Debug("evicted page", zap.Uint64("pageID", victim.GetPageId()), zap.Int("frameID", victimIdx))
	delete(b.pageMap, victim.GetPageId())
	return victimIdx, nil
}
