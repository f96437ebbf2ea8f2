package agent

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	s:<store>             store marker
//	e:<store>\x00<key>    gob encoded Entry
const (
	storePrefix = "s:"
	entryPrefix = "e:"
)

// LevelDBStorage persists stores in a single leveldb database so a restarted
// agent keeps serving its cache.
type LevelDBStorage struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return NewLevelDBStorage(db), nil
}

func NewLevelDBStorage(db *leveldb.DB) *LevelDBStorage {
	return &LevelDBStorage{db: db}
}

func (l *LevelDBStorage) Open(name string) (Store, error) {
	if err := l.db.Put([]byte(storePrefix+name), nil, nil); err != nil {
		return nil, err
	}
	return &levelStore{db: l.db, name: name, prefix: entryKeyPrefix(name)}, nil
}

func (l *LevelDBStorage) Names() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(storePrefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(storePrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (l *LevelDBStorage) Drop(name string) error {
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entryKeyPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete([]byte(storePrefix + name))
	return l.db.Write(batch, nil)
}

func (l *LevelDBStorage) Close() error { return l.db.Close() }

func entryKeyPrefix(name string) []byte {
	return []byte(entryPrefix + name + "\x00")
}

type levelStore struct {
	db     *leveldb.DB
	name   string
	prefix []byte
}

func (s *levelStore) Name() string { return s.name }

func (s *levelStore) key(k string) []byte {
	return append(append([]byte(nil), s.prefix...), k...)
}

func (s *levelStore) Get(key string) (Entry, bool) {
	b, err := s.db.Get(s.key(key), nil)
	if err != nil {
		return Entry{}, false
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false
	}
	return ent, true
}

func (s *levelStore) Put(key string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}
	return s.db.Put(s.key(key), b, nil)
}

func (s *levelStore) Len() int {
	n, _ := s.scan()
	return n
}

func (s *levelStore) Size() int64 {
	_, sz := s.scan()
	return sz
}

func (s *levelStore) scan() (int, int64) {
	it := s.db.NewIterator(util.BytesPrefix(s.prefix), nil)
	defer it.Release()
	var n int
	var sz int64
	for it.Next() {
		n++
		sz += int64(len(it.Value()))
	}
	return n, sz
}
