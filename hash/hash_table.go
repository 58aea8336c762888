package hash

import (
	"fmt"

	"go.uber.org/zap"

	"perch/buffer"
	"perch/common"
	"perch/disk"
	"perch/transaction"
)

// DiskHashTable is a disk resident extendible hash table. It is a three level structure: a single
// header page routes the uppermost bits of a key's hash to a directory page, the directory routes
// the lowest GlobalDepth bits to a bucket page, and buckets hold the key value pairs. Directories
// grow and shrink dynamically as buckets split and merge.
//
// All page access goes through the buffer pool's page guards with crab latching: a parent's latch
// is released as soon as the child's latch is held.
type DiskHashTable struct {
	pool         *buffer.BufferPool
	headerPageId uint64

	keySer KeySerializer
	valSer ValueSerializer
	hasher Hasher

	directoryMaxDepth uint32
	bucketMaxSize     uint32

	l *zap.Logger
}

// NewDiskHashTable allocates and initializes the header page of a fresh table. bucketMaxSize may be
// zero, in which case as many entries as fit a page are allowed.
func NewDiskHashTable(txn transaction.Transaction, pool *buffer.BufferPool, keySer KeySerializer, valSer ValueSerializer,
	hasher Hasher, headerMaxDepth, directoryMaxDepth, bucketMaxSize uint32, l *zap.Logger) (*DiskHashTable, error) {
	if headerMaxDepth > MaxHeaderDepth {
		return nil, fmt.Errorf("header max depth %d does not fit a page, at most %d", headerMaxDepth, MaxHeaderDepth)
	}
	if directoryMaxDepth > MaxDirectoryDepth {
		return nil, fmt.Errorf("directory max depth %d does not fit a page, at most %d", directoryMaxDepth, MaxDirectoryDepth)
	}
	if bucketMaxSize == 0 {
		bucketMaxSize = maxBucketSize(keySer, valSer)
	}
	if bucketMaxSize > maxBucketSize(keySer, valSer) {
		return nil, fmt.Errorf("bucket max size %d does not fit a page, at most %d", bucketMaxSize, maxBucketSize(keySer, valSer))
	}
	if hasher == nil {
		hasher = XXHasher{Serializer: keySer}
	}
	if l == nil {
		l = zap.NewNop()
	}

	guard, err := pool.NewPageGuarded(txn)
	if err != nil {
		return nil, err
	}
	headerGuard := guard.UpgradeWrite()
	initHeaderPage(headerGuard.GetData(), headerMaxDepth)
	headerPageId := headerGuard.GetPageId()
	headerGuard.Drop()

	return &DiskHashTable{
		pool:              pool,
		headerPageId:      headerPageId,
		keySer:            keySer,
		valSer:            valSer,
		hasher:            hasher,
		directoryMaxDepth: directoryMaxDepth,
		bucketMaxSize:     bucketMaxSize,
		l:                 l,
	}, nil
}

// ConstructDiskHashTable attaches to a table whose header page already exists.
func ConstructDiskHashTable(pool *buffer.BufferPool, headerPageId uint64, keySer KeySerializer, valSer ValueSerializer,
	hasher Hasher, directoryMaxDepth, bucketMaxSize uint32, l *zap.Logger) *DiskHashTable {
	if hasher == nil {
		hasher = XXHasher{Serializer: keySer}
	}
	if l == nil {
		l = zap.NewNop()
	}

	return &DiskHashTable{
		pool:              pool,
		headerPageId:      headerPageId,
		keySer:            keySer,
		valSer:            valSer,
		hasher:            hasher,
		directoryMaxDepth: directoryMaxDepth,
		bucketMaxSize:     bucketMaxSize,
		l:                 l,
	}
}

// HeaderPageID returns the page id a table handle can later be constructed from.
func (t *DiskHashTable) HeaderPageID() uint64 {
	return t.headerPageId
}

// Get returns the value stored under key. The transaction handle is accepted for interface
// compatibility and ignored.
func (t *DiskHashTable) Get(txn transaction.Transaction, key common.Key) (interface{}, bool, error) {
	hash := t.hasher.Hash(key)

	headerGuard, err := t.pool.FetchPageRead(t.headerPageId)
	if err != nil {
		return nil, false, err
	}
	header := headerPage{data: headerGuard.GetData()}
	directoryPageId := header.GetDirectoryPageId(header.HashToDirectoryIndex(hash))
	if directoryPageId == disk.InvalidPageID {
		headerGuard.Drop()
		return nil, false, nil
	}

	directoryGuard, err := t.pool.FetchPageRead(directoryPageId)
	headerGuard.Drop()
	if err != nil {
		return nil, false, err
	}
	directory := directoryPage{data: directoryGuard.GetData()}
	bucketPageId := directory.GetBucketPageId(directory.HashToBucketIndex(hash))
	if bucketPageId == disk.InvalidPageID {
		directoryGuard.Drop()
		return nil, false, nil
	}

	bucketGuard, err := t.pool.FetchPageRead(bucketPageId)
	directoryGuard.Drop()
	if err != nil {
		return nil, false, err
	}
	defer bucketGuard.Drop()

	bucket := castBucketPage(bucketGuard.GetData(), t.keySer, t.valSer)
	val, ok := bucket.Lookup(key)
	return val, ok, nil
}

// Insert puts a new key value pair into the table. Inserting an existing key returns false, as does
// inserting into a table whose directory and bucket depths are exhausted.
func (t *DiskHashTable) Insert(txn transaction.Transaction, key common.Key, value interface{}) (bool, error) {
	if _, ok, err := t.Get(txn, key); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	hash := t.hasher.Hash(key)
	for {
		inserted, retry, err := t.insertOnce(txn, hash, key, value)
		if err != nil || !retry {
			return inserted, err
		}
	}
}

// insertOnce walks the table once and either inserts, reports saturation, or splits a full bucket
// and asks for a retry.
func (t *DiskHashTable) insertOnce(txn transaction.Transaction, hash uint32, key common.Key, value interface{}) (inserted, retry bool, err error) {
	headerGuard, err := t.pool.FetchPageWrite(t.headerPageId)
	if err != nil {
		return false, false, err
	}
	header := headerPage{data: headerGuard.GetData()}
	directoryIdx := header.HashToDirectoryIndex(hash)
	directoryPageId := header.GetDirectoryPageId(directoryIdx)

	if directoryPageId == disk.InvalidPageID {
		defer headerGuard.Drop()
		ok, err := t.insertToNewDirectory(txn, header, directoryIdx, hash, key, value)
		return ok, false, err
	}

	directoryGuard, err := t.pool.FetchPageWrite(directoryPageId)
	headerGuard.Drop()
	if err != nil {
		return false, false, err
	}
	defer directoryGuard.Drop()

	directory := directoryPage{data: directoryGuard.GetData()}
	bucketIdx := directory.HashToBucketIndex(hash)
	bucketPageId := directory.GetBucketPageId(bucketIdx)

	if bucketPageId == disk.InvalidPageID {
		ok, err := t.insertToNewBucket(txn, directory, bucketIdx, key, value)
		return ok, false, err
	}

	bucketGuard, err := t.pool.FetchPageWrite(bucketPageId)
	if err != nil {
		return false, false, err
	}
	defer bucketGuard.Drop()

	bucket := castBucketPage(bucketGuard.GetData(), t.keySer, t.valSer)
	if !bucket.IsFull() {
		ok, err := bucket.Insert(key, value)
		return ok, false, err
	}

	// the bucket is full. grow the directory when the bucket's depth is exhausted at the current
	// global depth, then split and retry from the top.
	if directory.GetLocalDepth(bucketIdx) == directory.GlobalDepth() {
		if directory.GlobalDepth() >= directory.MaxDepth() {
			return false, false, nil
		}
		directory.IncrGlobalDepth()
		bucketIdx = directory.HashToBucketIndex(hash)
	}

	if err := t.splitBucket(txn, directory, bucket, bucketIdx); err != nil {
		return false, false, err
	}

	return false, true, nil
}

func (t *DiskHashTable) insertToNewDirectory(txn transaction.Transaction, header headerPage, directoryIdx uint32,
	hash uint32, key common.Key, value interface{}) (bool, error) {
	guard, err := t.pool.NewPageGuarded(txn)
	if err != nil {
		return false, err
	}
	directoryGuard := guard.UpgradeWrite()
	defer directoryGuard.Drop()

	directory := initDirectoryPage(directoryGuard.GetData(), t.directoryMaxDepth)
	header.SetDirectoryPageId(directoryIdx, directoryGuard.GetPageId())
	t.l.Debug("allocated directory page",
		zap.Uint64("pageID", directoryGuard.GetPageId()),
		zap.Uint32("directoryIdx", directoryIdx))

	return t.insertToNewBucket(txn, directory, directory.HashToBucketIndex(hash), key, value)
}

func (t *DiskHashTable) insertToNewBucket(txn transaction.Transaction, directory directoryPage, bucketIdx uint32,
	key common.Key, value interface{}) (bool, error) {
	guard, err := t.pool.NewPageGuarded(txn)
	if err != nil {
		return false, err
	}
	bucketGuard := guard.UpgradeWrite()
	defer bucketGuard.Drop()

	bucket := initBucketPage(bucketGuard.GetData(), t.bucketMaxSize, t.keySer, t.valSer)
	directory.SetBucketPageId(bucketIdx, bucketGuard.GetPageId())
	return bucket.Insert(key, value)
}

// splitBucket allocates a split image for the full bucket at bucketIdx, points every directory slot
// that now resolves differently at the deeper local depth to it, and redistributes the entries.
// Caller holds write latches on both the directory and the bucket.
func (t *DiskHashTable) splitBucket(txn transaction.Transaction, directory directoryPage, bucket bucketPage, bucketIdx uint32) error {
	oldPageId := directory.GetBucketPageId(bucketIdx)
	oldLocalDepth := directory.GetLocalDepth(bucketIdx)
	newLocalDepth := oldLocalDepth + 1

	guard, err := t.pool.NewPageGuarded(txn)
	if err != nil {
		return err
	}
	splitGuard := guard.UpgradeWrite()
	defer splitGuard.Drop()

	splitBucket := initBucketPage(splitGuard.GetData(), t.bucketMaxSize, t.keySer, t.valSer)
	splitPageId := splitGuard.GetPageId()

	// deepen every slot that references the old bucket; slots whose newly significant bit differs
	// from bucketIdx's move to the split image
	for i := uint32(0); i < directory.Size(); i++ {
		if directory.GetBucketPageId(i) != oldPageId {
			continue
		}
		directory.SetLocalDepth(i, newLocalDepth)
		if (i>>oldLocalDepth)&1 != (bucketIdx>>oldLocalDepth)&1 {
			directory.SetBucketPageId(i, splitPageId)
		}
	}

	entries := bucket.Size()
	keys := make([]common.Key, 0, entries)
	vals := make([]interface{}, 0, entries)
	for i := uint32(0); i < entries; i++ {
		keys = append(keys, bucket.KeyAt(i))
		vals = append(vals, bucket.ValueAt(i))
	}
	bucket.Clear()

	for i := range keys {
		targetIdx := directory.HashToBucketIndex(t.hasher.Hash(keys[i]))
		target := bucket
		if directory.GetBucketPageId(targetIdx) == splitPageId {
			target = splitBucket
		}
		if ok, err := target.Insert(keys[i], vals[i]); err != nil {
			return err
		} else if !ok {
			panic(fmt.Sprintf("bucket overflow while redistributing a split, page_id: %v", directory.GetBucketPageId(targetIdx)))
		}
	}

	t.l.Debug("split bucket",
		zap.Uint64("pageID", oldPageId),
		zap.Uint64("splitPageID", splitPageId),
		zap.Uint32("newLocalDepth", newLocalDepth))
	return nil
}

// VerifyIntegrity walks every directory of the table and panics when depth bookkeeping is
// inconsistent. Meant for tests and debugging.
func (t *DiskHashTable) VerifyIntegrity() error {
	headerGuard, err := t.pool.FetchPageRead(t.headerPageId)
	if err != nil {
		return err
	}
	defer headerGuard.Drop()

	header := headerPage{data: headerGuard.GetData()}
	for i := uint32(0); i < header.MaxSize(); i++ {
		directoryPageId := header.GetDirectoryPageId(i)
		if directoryPageId == disk.InvalidPageID {
			continue
		}

		directoryGuard, err := t.pool.FetchPageRead(directoryPageId)
		if err != nil {
			return err
		}
		directoryPage{data: directoryGuard.GetData()}.verifyIntegrity()
		directoryGuard.Drop()
	}
	return nil
}

// Remove deletes the entry stored under key. Empty buckets merge with their split image while legal
// and the directory shrinks as far as local depths allow.
func (t *DiskHashTable) Remove(txn transaction.Transaction, key common.Key) (bool, error) {
	hash := t.hasher.Hash(key)

	headerGuard, err := t.pool.FetchPageRead(t.headerPageId)
	if err != nil {
		return false, err
	}
	header := headerPage{data: headerGuard.GetData()}
	directoryPageId := header.GetDirectoryPageId(header.HashToDirectoryIndex(hash))
	if directoryPageId == disk.InvalidPageID {
		headerGuard.Drop()
		return false, nil
	}

	directoryGuard, err := t.pool.FetchPageWrite(directoryPageId)
	headerGuard.Drop()
	if err != nil {
		return false, err
	}
	defer directoryGuard.Drop()

	directory := directoryPage{data: directoryGuard.GetData()}
	bucketIdx := directory.HashToBucketIndex(hash)
	bucketPageId := directory.GetBucketPageId(bucketIdx)
	if bucketPageId == disk.InvalidPageID {
		return false, nil
	}

	bucketGuard, err := t.pool.FetchPageWrite(bucketPageId)
	if err != nil {
		return false, err
	}

	bucket := castBucketPage(bucketGuard.GetData(), t.keySer, t.valSer)
	if !bucket.Remove(key) {
		bucketGuard.Drop()
		return false, nil
	}

	// merge loop: while the subject bucket is empty and its split image sits at the same local
	// depth, fold the pair together and continue with the merged bucket, which may cascade.
	for bucket.IsEmpty() {
		localDepth := directory.GetLocalDepth(bucketIdx)
		if localDepth == 0 {
			break
		}

		mergeIdx := directory.GetSplitImageIndex(bucketIdx)
		if directory.GetLocalDepth(mergeIdx) != localDepth {
			break
		}
		mergePageId := directory.GetBucketPageId(mergeIdx)
		if mergePageId == disk.InvalidPageID {
			break
		}

		emptyPageId := bucketPageId
		bucketGuard.Drop()

		// retarget every slot of either half onto the merge bucket one level up
		traverseIdx := min(bucketIdx&directory.GetLocalDepthMask(bucketIdx), mergeIdx)
		distance := uint32(1) << (localDepth - 1)
		for i := traverseIdx; i < directory.Size(); i += distance {
			directory.SetBucketPageId(i, mergePageId)
			directory.SetLocalDepth(i, localDepth-1)
		}

		// a reader that resolved the old slot may still pin the page; it stays cached then and the
		// frame is reclaimed by the replacer later
		if !t.pool.DeletePage(emptyPageId) {
			t.l.Debug("merged away bucket page is still pinned", zap.Uint64("pageID", emptyPageId))
		}
		t.l.Debug("merged bucket",
			zap.Uint64("pageID", emptyPageId),
			zap.Uint64("mergePageID", mergePageId),
			zap.Uint32("newLocalDepth", localDepth-1))

		bucketIdx = traverseIdx
		bucketPageId = mergePageId
		bucketGuard, err = t.pool.FetchPageWrite(bucketPageId)
		if err != nil {
			return false, err
		}
		bucket = castBucketPage(bucketGuard.GetData(), t.keySer, t.valSer)
	}
	bucketGuard.Drop()

	for directory.CanShrink() {
		directory.DecrGlobalDepth()
	}

	return true, nil
}
