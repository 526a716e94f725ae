// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

package marketdb

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("marketdb: not found")

var (
	putCounter  = metrics.NewRegisteredCounter("hookmarket/db/put", nil)
	getCounter  = metrics.NewRegisteredCounter("hookmarket/db/get", nil)
	scanCounter = metrics.NewRegisteredCounter("hookmarket/db/scan", nil)
)

// syncWrites makes every mutation durable before the accessor returns.
var syncWrites = &opt.WriteOptions{Sync: true}

// Database wraps a leveldb instance with typed marketplace accessors. All
// mutations are single-row batches, durable before returning.
type Database struct {
	ldb    *leveldb.DB
	logger log.Logger
}

// Open opens (or creates) the database at path, recovering a corrupted
// manifest if needed.
func Open(path string) (*Database, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{OpenFilesCacheCapacity: 64})
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("marketdb: open %s: %w", path, err)
	}
	logger := log.New("database", path)
	logger.Info("Opened market database")
	return &Database{ldb: db, logger: logger}, nil
}

// OpenMemory opens a fully in-memory database, used by tests and the mock
// deployment mode.
func OpenMemory() *Database {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err) // memory storage cannot fail to open
	}
	return &Database{ldb: db, logger: log.New("database", "memory")}
}

// Close flushes and closes the underlying leveldb handle.
func (d *Database) Close() error {
	return d.ldb.Close()
}

func (d *Database) put(key []byte, v any) error {
	enc, err := json.Marshal(v)
	if err != nil {
		log.Crit("Failed to encode database value", "key", string(key), "err", err)
	}
	putCounter.Inc(1)
	if err := d.ldb.Put(key, enc, syncWrites); err != nil {
		return fmt.Errorf("marketdb: put %s: %w", string(key), err)
	}
	return nil
}

func (d *Database) get(key []byte, v any) error {
	getCounter.Inc(1)
	data, err := d.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("marketdb: get %s: %w", string(key), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("marketdb: decode %s: %w", string(key), err)
	}
	return nil
}

// scan walks all values under prefix in key order, decoding each row into a
// fresh T.
func scan[T any](d *Database, prefix []byte) ([]*T, error) {
	scanCounter.Inc(1)
	it := d.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []*T
	for it.Next() {
		v := new(T)
		if err := json.Unmarshal(it.Value(), v); err != nil {
			return nil, fmt.Errorf("marketdb: decode %s: %w", string(it.Key()), err)
		}
		out = append(out, v)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("marketdb: scan %s: %w", string(prefix), err)
	}
	return out, nil
}

// scanKeys returns the raw values (not decoded) under prefix in key order.
func (d *Database) scanValues(prefix []byte) ([][]byte, error) {
	scanCounter.Inc(1)
	it := d.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out [][]byte
	for it.Next() {
		out = append(out, append([]byte(nil), it.Value()...))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("marketdb: scan %s: %w", string(prefix), err)
	}
	return out, nil
}

func (d *Database) writeBatch(batch *leveldb.Batch) error {
	putCounter.Inc(1)
	if err := d.ldb.Write(batch, syncWrites); err != nil {
		return fmt.Errorf("marketdb: batch write: %w", err)
	}
	return nil
}
