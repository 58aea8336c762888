package buffer

import (
	"fmt"
	"sync"
)

type lrukNode struct {
	// history keeps up to k most recent access timestamps, oldest first
	history   []uint64
	evictable bool
}

var _ IReplacer = &LRUKReplacer{}

// LRUKReplacer chooses victims by backward k-distance: the frame whose k-th most recent access lies
// furthest in the past is evicted first. Frames with fewer than k recorded accesses have infinite
// k-distance and are preferred over frames with full histories; ties are broken by the oldest
// recorded access, classical lru among them.
type LRUKReplacer struct {
	nodes    map[int]*lrukNode
	k        int
	size     int
	currSize int
	ts       uint64
	lock     sync.Mutex
}

func NewLRUKReplacer(size, k int) *LRUKReplacer {
	if k <= 0 {
		panic(fmt.Sprintf("replacer k must be positive, got: %v", k))
	}

	return &LRUKReplacer{
		nodes: make(map[int]*lrukNode),
		k:     k,
		size:  size,
		lock:  sync.Mutex{},
	}
}

func (l *LRUKReplacer) RecordAccess(frameId int, accessType AccessType) {
	l.lock.Lock()
	defer l.lock.Unlock()

	node := l.node(frameId)
	if accessType == AccessScan {
		// scan accesses leave no trace in the history
		return
	}

	if len(node.history) == l.k {
		node.history = node.history[1:]
	}
	l.ts++
	node.history = append(node.history, l.ts)
}

func (l *LRUKReplacer) SetEvictable(frameId int, evictable bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	node := l.node(frameId)
	if evictable && !node.evictable {
		node.evictable = true
		l.currSize++
	} else if !evictable && node.evictable {
		node.evictable = false
		l.currSize--
	}
}

func (l *LRUKReplacer) Remove(frameId int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	node, ok := l.nodes[frameId]
	if !ok {
		return
	}
	if !node.evictable {
		panic(fmt.Sprintf("removing a non-evictable frame: %v", frameId))
	}

	delete(l.nodes, frameId)
	l.currSize--
}

func (l *LRUKReplacer) ChooseVictim() (frameId int, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.currSize == 0 {
		return 0, ErrNoVictim
	}

	found := false
	var victim int

	// victims sort first by class then by oldest access. class 0 is a tracked frame that was never
	// accessed, class 1 has fewer than k accesses (infinite k-distance), class 2 has a full history.
	bestClass := 3
	var bestOldest uint64
	for id, node := range l.nodes {
		if !node.evictable {
			continue
		}

		class := 2
		if len(node.history) == 0 {
			class = 0
		} else if len(node.history) < l.k {
			class = 1
		}

		if class < bestClass {
			found = true
			victim = id
			bestClass = class
			if len(node.history) > 0 {
				bestOldest = node.history[0]
			}
			continue
		}
		if class == bestClass && class != 0 && node.history[0] < bestOldest {
			found = true
			victim = id
			bestOldest = node.history[0]
		}
	}

	if !found {
		// currSize > 0 guarantees an evictable node exists
		panic("evictable count is positive but no victim was found")
	}

	delete(l.nodes, victim)
	l.currSize--
	return victim, nil
}

func (l *LRUKReplacer) NumEvictable() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.currSize
}

func (l *LRUKReplacer) GetSize() int {
	return l.size
}

// node returns the tracked state of frameId, creating it non-evictable with an empty history when
// it is seen for the first time.
func (l *LRUKReplacer) node(frameId int) *lrukNode {
	if frameId < 0 || frameId >= l.size {
		panic(fmt.Sprintf("invalid frame id: %v", frameId))
	}

	node, ok := l.nodes[frameId]
	if !ok {
		node = &lrukNode{}
		l.nodes[frameId] = node
	}
	return node
}
