package db

import (
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = leveldb.ErrNotFound

// LevelDB wraps the actual LevelDB connection
type LevelDB struct {
	conn *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB instance at the given path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to open leveldb at %s", path)
	}
	return &LevelDB{conn: db}, nil
}

// NewMemLevelDB opens a LevelDB instance backed by memory, used by tests and ephemeral nodes
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// Close safely closes the LevelDB connection
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Put inserts or updates a key-value pair
func (l *LevelDB) Put(key, value []byte) error {
	return l.conn.Put(key, value, nil)
}

// Get retrieves the value for a given key
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.conn.Get(key, nil)
}

// Has reports whether the key exists
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.conn.Has(key, nil)
}

// Delete removes a key, deleting an absent key is not an error
func (l *LevelDB) Delete(key []byte) error {
	return l.conn.Delete(key, nil)
}

// NewBatch returns an empty write batch
func (l *LevelDB) NewBatch() *leveldb.Batch {
	return new(leveldb.Batch)
}

// Write applies a batch atomically
func (l *LevelDB) Write(batch *leveldb.Batch) error {
	return l.conn.Write(batch, nil)
}

// NewIterator returns an iterator over all key-value pairs starting with prefix
func (l *LevelDB) NewIterator(prefix []byte) iterator.Iterator {
	if len(prefix) == 0 {
		return l.conn.NewIterator(nil, nil)
	}
	return l.conn.NewIterator(util.BytesPrefix(prefix), nil)
}
