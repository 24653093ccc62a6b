package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "snapshot/"

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir holds the database files; ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Retain keeps only the newest Retain records; zero keeps everything.
	Retain int
	Logger *slog.Logger
}

// BadgerStore is a Store on a local BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	retain int
}

// OpenBadger opens or creates a badger backed archive.
func OpenBadger(options BadgerOptions) (*BadgerStore, error) {
	if !options.InMemory && options.Dir == "" {
		return nil, fmt.Errorf("open badger archive: dir is required unless in_memory is set")
	}
	if options.Retain < 0 {
		return nil, fmt.Errorf("open badger archive: retain must be >= 0")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbOptions := badger.DefaultOptions(options.Dir).WithLogger(badgerLogger{logger: logger.With("component", "badger")})
	if options.InMemory {
		dbOptions = dbOptions.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("open badger archive: %w", err)
	}

	return &BadgerStore{db: db, retain: options.Retain}, nil
}

// Put stores blob and prunes records beyond the retention limit.
func (s *BadgerStore) Put(ctx context.Context, blob []byte) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("badger put: %w", err)
	}
	id, err := newRecordID()
	if err != nil {
		return Record{}, fmt.Errorf("badger put: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+id), blob)
	}); err != nil {
		return Record{}, fmt.Errorf("badger put %s: %w", id, err)
	}
	if err := s.prune(); err != nil {
		return Record{}, fmt.Errorf("badger put %s: %w", id, err)
	}

	createdAt, _ := recordTime(id)
	return Record{ID: id, CreatedAt: createdAt, Size: int64(len(blob))}, nil
}

// Get returns one stored blob.
func (s *BadgerStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + id))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("badger get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", id, err)
	}

	return blob, nil
}

// Latest returns the newest record using a reverse prefix scan.
func (s *BadgerStore) Latest(ctx context.Context) (Record, []byte, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, nil, fmt.Errorf("badger latest: %w", err)
	}

	var (
		record Record
		blob   []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOptions := badger.DefaultIteratorOptions
		iterOptions.Reverse = true
		iterOptions.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(iterOptions)
		defer it.Close()

		// Reverse iteration seeks to the greatest key <= the seek key.
		it.Seek([]byte(badgerKeyPrefix + "\xff"))
		if !it.ValidForPrefix([]byte(badgerKeyPrefix)) {
			return ErrNotFound
		}
		item := it.Item()
		var err error
		if blob, err = item.ValueCopy(nil); err != nil {
			return err
		}
		record = recordFromKey(string(item.Key()), item.ValueSize())
		return nil
	})
	if err != nil {
		return Record{}, nil, fmt.Errorf("badger latest: %w", err)
	}

	return record, blob, nil
}

// List returns every record, newest first.
func (s *BadgerStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}

	records, err := s.scan()
	if err != nil {
		return nil, fmt.Errorf("badger list: %w", err)
	}
	sortNewestFirst(records)

	return records, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger archive: %w", err)
	}
	return nil
}

// scan lists records oldest first without loading values.
func (s *BadgerStore) scan() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		iterOptions := badger.DefaultIteratorOptions
		iterOptions.PrefetchValues = false
		iterOptions.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(iterOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			records = append(records, recordFromKey(string(item.Key()), item.ValueSize()))
		}
		return nil
	})

	return records, err
}

func (s *BadgerStore) prune() error {
	if s.retain == 0 {
		return nil
	}
	records, err := s.scan()
	if err != nil {
		return fmt.Errorf("prune scan: %w", err)
	}
	if len(records) <= s.retain {
		return nil
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, record := range records[:len(records)-s.retain] {
		if err := batch.Delete([]byte(badgerKeyPrefix + record.ID)); err != nil {
			return fmt.Errorf("prune %s: %w", record.ID, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("prune flush: %w", err)
	}

	return nil
}

func recordFromKey(key string, size int64) Record {
	id := strings.TrimPrefix(key, badgerKeyPrefix)
	createdAt, _ := recordTime(id)

	return Record{ID: id, CreatedAt: createdAt, Size: size}
}

// badgerLogger forwards badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
