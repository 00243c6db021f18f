package handoff

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbStorage "github.com/syndtr/goleveldb/leveldb/storage"

	"fastvote/internal/domain"
)

// LevelDB archives encoded records in a local LevelDB under "commit:"+key.
// Like Redis it accepts a repeated identical record and refuses a different
// one.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens the archive at path. An empty path opens an in-memory
// store.
func OpenLevelDB(path string) (*LevelDB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbStorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func levelKey(key domain.Key) []byte {
	return []byte("commit:" + key.String())
}

func (l *LevelDB) Commit(_ context.Context, _ *sql.Tx, a domain.Action) error {
	k := levelKey(a.Key)
	record := domain.EncodeAction(a)
	existing, err := l.db.Get(k, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		if err := l.db.Put(k, record, nil); err != nil {
			return fmt.Errorf("leveldb commit %s: %w", a.Key, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("leveldb read %s: %w", a.Key, err)
	case !bytes.Equal(existing, record):
		return fmt.Errorf("leveldb commit %s: conflicting record already committed", a.Key)
	}
	return nil
}

// Fetch returns the archived record for an action key.
func (l *LevelDB) Fetch(_ context.Context, key domain.Key) (domain.Action, error) {
	data, err := l.db.Get(levelKey(key), nil)
	if err != nil {
		return domain.Action{}, err
	}
	return domain.DecodeAction(data)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
