package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CympleTech/TDN-sub000/log"
)

var logger = log.NewModuleLogger(log.ModuleStorage)

// levelDBStore is grounded on the teacher's storage/database/leveldb_database.go:
// same Put/Get/Has/Delete calling convention, stripped of the metrics
// hooks and compaction meters this engine's scope doesn't need.
type levelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB-backed Store at path.
func OpenLevelDB(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("opened leveldb store", "path", path)
	return &levelDBStore{db: db}, nil
}

func (l *levelDBStore) Put(ns Namespace, key, value []byte) error {
	return l.db.Put(namespacedKey(ns, key), value, nil)
}

func (l *levelDBStore) Get(ns Namespace, key []byte) ([]byte, error) {
	v, err := l.db.Get(namespacedKey(ns, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *levelDBStore) Has(ns Namespace, key []byte) (bool, error) {
	return l.db.Has(namespacedKey(ns, key), nil)
}

func (l *levelDBStore) Delete(ns Namespace, key []byte) error {
	return l.db.Delete(namespacedKey(ns, key), nil)
}

func (l *levelDBStore) Iterate(ns Namespace, prefix []byte, fn func(key, value []byte) bool) error {
	full := namespacedKey(ns, prefix)
	it := l.db.NewIterator(util.BytesPrefix(full), nil)
	defer it.Release()
	for it.Next() {
		key := append([]byte(nil), it.Key()[1:]...) // strip namespace byte
		value := append([]byte(nil), it.Value()...)
		if !fn(key, value) {
			break
		}
	}
	return it.Error()
}

func (l *levelDBStore) Close() error {
	return l.db.Close()
}
