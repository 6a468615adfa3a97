package kvserver

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Store is the leveldb backing of the dev KV server.
//
// Plain entry:    <table>/<key>            -> value
// Dup-sort entry: <table>/<key><dupvalue>  -> (empty)
//
// Dup-sort tables must use fixed-length keys; the cursor learns the length
// from the SEEK_BOTH request and keeps it for the NEXT_DUP family.
type Store struct {
	db *leveldb.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemStore backs the store with memory only; used by tests.
func OpenMemStore() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory kv store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func tablePrefix(table string) []byte {
	return append([]byte(table), '/')
}

func (s *Store) encodeKey(table string, key []byte) []byte {
	return append(tablePrefix(table), key...)
}

// Put writes a plain entry.
func (s *Store) Put(table string, key, value []byte) error {
	return s.db.Put(s.encodeKey(table, key), value, nil)
}

// PutDup writes one dup-sort value under key. The value carries its own
// subkey prefix (e.g. storage location ++ payload).
func (s *Store) PutDup(table string, key, value []byte) error {
	composite := append(s.encodeKey(table, key), value...)
	return s.db.Put(composite, nil, nil)
}

func (s *Store) get(table string, key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(s.encodeKey(table, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}
