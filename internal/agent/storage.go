package agent

import (
	"bytes"
	"encoding/gob"
	"errors"
	"net/http"
)

// ErrEntryTooLarge is returned by bounded stores for entries that can never fit.
var ErrEntryTooLarge = errors.New("entry exceeds store capacity")

// Store is one named cache generation.
type Store interface {
	Name() string
	// Get returns the entry for key. A miss is not an error.
	Get(key string) (Entry, bool)
	// Put replaces the whole entry for key.
	Put(key string, ent Entry) error
	Len() int
	Size() int64
}

// Storage holds the named stores of one client.
type Storage interface {
	// Open returns the store called name, creating it when missing.
	Open(name string) (Store, error)
	Names() ([]string, error)
	// Drop deletes the store called name and every entry in it.
	Drop(name string) error
	Close() error
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
