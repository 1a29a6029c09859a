package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// OpenPebble opens (or creates) a pebble-backed Store at dir.
func OpenPebble(dir string) (Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble at %s: %w", dir, err)
	}
	return &kvStore{db: &pebbleBackend{db: db}}, nil
}

type pebbleBackend struct {
	db *pebble.DB
}

func (p *pebbleBackend) get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (p *pebbleBackend) commit(b *batch) error {
	wb := p.db.NewBatch()
	defer wb.Close()
	for _, op := range b.ops {
		var err error
		switch op.kind {
		case opSet:
			err = wb.Set(op.key, op.value, nil)
		case opDelete:
			err = wb.Delete(op.key, nil)
		case opDeleteRange:
			if op.end == nil {
				return fmt.Errorf("storage: unbounded range delete")
			}
			err = wb.DeleteRange(op.key, op.end, nil)
		}
		if err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}

func (p *pebbleBackend) iterate(fn func(key, value []byte)) error {
	it, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	for it.First(); it.Valid(); it.Next() {
		fn(it.Key(), it.Value())
	}
	if err := it.Error(); err != nil {
		it.Close()
		return err
	}
	return it.Close()
}

func (p *pebbleBackend) close() error {
	return p.db.Close()
}
