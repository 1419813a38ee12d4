package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "github.com/boltdb/bolt"
)

var (
	messagesBucket   = []byte("messages")
	statementsBucket = []byte("statements")
)

// ExportRecord is what the store keeps for an exported invoice.
type ExportRecord struct {
	InvoiceID  int64     `json:"invoice_id"`
	Ref        string    `json:"ref"`
	ExportedAt time.Time `json:"exported_at"`
}

// IdempotencyStore remembers processed message ids and exported invoices
// in a bolt file, so redelivered messages are acknowledged without work.
type IdempotencyStore struct {
	db *bolt.DB
}

func OpenIdempotencyStore(path string) (*IdempotencyStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{messagesBucket, statementsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &IdempotencyStore{db: db}, nil
}

func (s *IdempotencyStore) Close() error {
	return s.db.Close()
}

// Seen reports whether messageID was already processed.
func (s *IdempotencyStore) Seen(messageID string) (bool, error) {
	var seen bool
	err := s.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(messagesBucket).Get([]byte(messageID)) != nil
		return nil
	})
	return seen, err
}

// MarkProcessed records messageID. Marking twice keeps the first timestamp.
func (s *IdempotencyStore) MarkProcessed(messageID string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		if b.Get([]byte(messageID)) != nil {
			return nil
		}
		return b.Put([]byte(messageID), []byte(at.UTC().Format(time.RFC3339Nano)))
	})
}

// Exported returns the export record of an invoice, if any.
func (s *IdempotencyStore) Exported(invoiceID int64) (ExportRecord, bool, error) {
	var (
		rec ExportRecord
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(statementsBucket).Get(invoiceKey(invoiceID))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &rec)
	})
	return rec, ok, err
}

// RecordExport stores the export of an invoice, replacing an older one.
func (s *IdempotencyStore) RecordExport(rec ExportRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(statementsBucket).Put(invoiceKey(rec.InvoiceID), data)
	})
}

func invoiceKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}
