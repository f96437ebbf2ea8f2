package agent

import (
	"sort"
	"sync"
)

// MemoryStorage keeps stores in RAM. Each store is an LRU bounded by maxBytes
// of encoded entry size; 0 means unbounded.
type MemoryStorage struct {
	maxBytes int64

	mu     sync.Mutex
	stores map[string]*ramStore
}

func NewMemoryStorage(maxBytes int64) *MemoryStorage {
	return &MemoryStorage{maxBytes: maxBytes, stores: map[string]*ramStore{}}
}

func (m *MemoryStorage) Open(name string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := &ramStore{name: name, maxBytes: m.maxBytes, items: map[string]*ramItem{}}
	m.stores[name] = s
	return s, nil
}

func (m *MemoryStorage) Names() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.stores))
	for n := range m.stores {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		s.clear()
		delete(m.stores, name)
	}
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

type ramItem struct {
	key  string
	ent  Entry
	size int64
	prev *ramItem
	next *ramItem
}

type ramStore struct {
	name     string
	maxBytes int64

	mu    sync.Mutex
	items map[string]*ramItem
	head  *ramItem
	tail  *ramItem
	total int64
}

func (c *ramStore) Name() string { return c.name }

func (c *ramStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ramStore) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *ramStore) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	c.moveToFront(it)
	return it.ent, true
}

func (c *ramStore) Put(key string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}
	sz := int64(len(b))
	if c.maxBytes > 0 && sz > c.maxBytes {
		return ErrEntryTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.total += sz - it.size
		it.ent = ent
		it.size = sz
		c.moveToFront(it)
		c.evictLocked()
		return nil
	}

	it := &ramItem{key: key, ent: ent, size: sz}
	c.items[key] = it
	c.addToFront(it)
	c.total += sz
	c.evictLocked()
	return nil
}

// evictLocked drops least recently used entries until the store fits again.
// The head is never evicted so the entry just written survives.
func (c *ramStore) evictLocked() {
	for c.maxBytes > 0 && c.total > c.maxBytes && c.tail != nil && c.tail != c.head {
		it := c.tail
		c.remove(it)
		delete(c.items, it.key)
		c.total -= it.size
	}
}

func (c *ramStore) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]*ramItem{}
	c.head, c.tail = nil, nil
	c.total = 0
}

func (c *ramStore) addToFront(it *ramItem) {
	it.prev = nil
	it.next = c.head
	if c.head != nil {
		c.head.prev = it
	}
	c.head = it
	if c.tail == nil {
		c.tail = it
	}
}

func (c *ramStore) remove(it *ramItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *ramStore) moveToFront(it *ramItem) {
	if c.head == it {
		return
	}
	c.remove(it)
	c.addToFront(it)
}
