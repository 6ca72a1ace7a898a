package storage

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"
)

const (
	gcThreshold      = int64(1 << 30)
	sizeGCTickerTime = 1 * time.Minute
)

// badgerStore adapts the teacher's storage/database/badger_database.go
// transaction-per-call Put/Get/Has/Delete pattern and background
// value-log GC loop to the Store interface.
type badgerStore struct {
	db       *badger.DB
	gcTicker *time.Ticker
	stopGC   chan struct{}
}

// OpenBadger opens (or creates) a Badger-backed Store at dir.
func OpenBadger(dir string) (Store, error) {
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("storage: %s is not a directory", dir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("storage: creating badger dir %s: %w", dir, err)
		}
	} else {
		return nil, err
	}

	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: opening badger at %s: %w", dir, err)
	}

	b := &badgerStore{db: db, gcTicker: time.NewTicker(sizeGCTickerTime), stopGC: make(chan struct{})}
	go b.runValueLogGC()
	logger.Info("opened badger store", "dir", dir)
	return b, nil
}

func (b *badgerStore) runValueLogGC() {
	_, lastSize := b.db.Size()
	for {
		select {
		case <-b.stopGC:
			return
		case <-b.gcTicker.C:
			_, curSize := b.db.Size()
			if curSize-lastSize < gcThreshold {
				continue
			}
			if err := b.db.RunValueLogGC(0.5); err != nil {
				logger.Error("badger value log gc failed", "err", err)
				continue
			}
			_, lastSize = b.db.Size()
		}
	}
}

func (b *badgerStore) Put(ns Namespace, key, value []byte) error {
	txn := b.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(namespacedKey(ns, key), value); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (b *badgerStore) Get(ns Namespace, key []byte) ([]byte, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(namespacedKey(ns, key))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *badgerStore) Has(ns Namespace, key []byte) (bool, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	_, err := txn.Get(namespacedKey(ns, key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *badgerStore) Delete(ns Namespace, key []byte) error {
	txn := b.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(namespacedKey(ns, key)); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (b *badgerStore) Iterate(ns Namespace, prefix []byte, fn func(key, value []byte) bool) error {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	full := namespacedKey(ns, prefix)
	for it.Seek(full); it.ValidForPrefix(full); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		key := append([]byte(nil), item.Key()[1:]...)
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		if !fn(key, value) {
			break
		}
	}
	return nil
}

func (b *badgerStore) Close() error {
	close(b.stopGC)
	b.gcTicker.Stop()
	return b.db.Close()
}
