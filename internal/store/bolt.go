package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/synclib/diffsync/internal/document"
)

// Bucket names for the bbolt-backed store.
var (
	bucketDocuments = []byte("documents")
	bucketShadows   = []byte("shadows")
	bucketBackups   = []byte("backups")
	bucketEdits     = []byte("edits")
)

// Bolt is the client-side durable DataStore backed by bbolt. Each edit
// queue lives in a nested bucket keyed by the document key; bbolt's
// per-bucket sequence provides FIFO order.
type Bolt[T any, D document.Edit[D]] struct {
	db    *bolt.DB
	codec ContentCodec[T]
}

// OpenBolt creates or opens a bbolt database at the given path and
// ensures the top-level buckets exist.
func OpenBolt[T any, D document.Edit[D]](path string, codec ContentCodec[T]) (*Bolt[T, D], error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDocuments, bucketShadows, bucketBackups, bucketEdits} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt[T, D]{db: db, codec: codec}, nil
}

// Close closes the database.
func (b *Bolt[T, D]) Close() error {
	return b.db.Close()
}

// boltKey encodes a document key. The null byte cannot appear in ids
// that travel in JSON strings sanely, so it separates the halves.
func boltKey(key document.Key) []byte {
	out := make([]byte, 0, len(key.DocumentID)+len(key.ClientID)+1)
	out = append(out, key.DocumentID...)
	out = append(out, 0x00)
	out = append(out, key.ClientID...)
	return out
}

// shadowRecord is the stored form of a shadow or backup.
type shadowRecord struct {
	Version       int64  `json:"version,omitempty"`
	ClientVersion int64  `json:"clientVersion"`
	ServerVersion int64  `json:"serverVersion"`
	Content       []byte `json:"content"`
}

// SaveClientDocument stores or replaces the working document.
func (b *Bolt[T, D]) SaveClientDocument(_ context.Context, doc document.Document[T]) error {
	content, err := b.codec.MarshalContent(doc.Content)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).Put(boltKey(doc.Key()), content)
	})
}

// GetClientDocument returns the working document for the key.
func (b *Bolt[T, D]) GetClientDocument(_ context.Context, key document.Key) (document.Document[T], bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDocuments).Get(boltKey(key)); v != nil {
			raw = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return document.Document[T]{}, false, fmt.Errorf("get document: %w", err)
	}
	if raw == nil {
		return document.Document[T]{}, false, nil
	}

	content, err := b.codec.UnmarshalContent(raw)
	if err != nil {
		return document.Document[T]{}, false, fmt.Errorf("get document: %w", err)
	}
	return document.Document[T]{ID: key.DocumentID, ClientID: key.ClientID, Content: content}, true, nil
}

// SaveShadow stores or replaces the shadow.
func (b *Bolt[T, D]) SaveShadow(_ context.Context, shadow document.ShadowDocument[T]) error {
	content, err := b.codec.MarshalContent(shadow.Document.Content)
	if err != nil {
		return fmt.Errorf("save shadow: %w", err)
	}
	record, err := json.Marshal(shadowRecord{
		ClientVersion: shadow.ClientVersion,
		ServerVersion: shadow.ServerVersion,
		Content:       content,
	})
	if err != nil {
		return fmt.Errorf("save shadow: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShadows).Put(boltKey(shadow.Key()), record)
	})
}

// GetShadow returns the shadow for the key.
func (b *Bolt[T, D]) GetShadow(_ context.Context, key document.Key) (document.ShadowDocument[T], bool, error) {
	record, found, err := b.getRecord(bucketShadows, key)
	if err != nil || !found {
		return document.ShadowDocument[T]{}, false, err
	}

	content, err := b.codec.UnmarshalContent(record.Content)
	if err != nil {
		return document.ShadowDocument[T]{}, false, fmt.Errorf("get shadow: %w", err)
	}
	return document.ShadowDocument[T]{
		ClientVersion: record.ClientVersion,
		ServerVersion: record.ServerVersion,
		Document:      document.Document[T]{ID: key.DocumentID, ClientID: key.ClientID, Content: content},
	}, true, nil
}

// SaveBackup stores or replaces the backup shadow.
func (b *Bolt[T, D]) SaveBackup(_ context.Context, backup document.BackupShadow[T]) error {
	content, err := b.codec.MarshalContent(backup.Shadow.Document.Content)
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	record, err := json.Marshal(shadowRecord{
		Version:       backup.Version,
		ClientVersion: backup.Shadow.ClientVersion,
		ServerVersion: backup.Shadow.ServerVersion,
		Content:       content,
	})
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).Put(boltKey(backup.Key()), record)
	})
}

// GetBackup returns the backup shadow for the key.
func (b *Bolt[T, D]) GetBackup(_ context.Context, key document.Key) (document.BackupShadow[T], bool, error) {
	record, found, err := b.getRecord(bucketBackups, key)
	if err != nil || !found {
		return document.BackupShadow[T]{}, false, err
	}

	content, err := b.codec.UnmarshalContent(record.Content)
	if err != nil {
		return document.BackupShadow[T]{}, false, fmt.Errorf("get backup: %w", err)
	}
	return document.BackupShadow[T]{
		Version: record.Version,
		Shadow: document.ShadowDocument[T]{
			ClientVersion: record.ClientVersion,
			ServerVersion: record.ServerVersion,
			Document:      document.Document[T]{ID: key.DocumentID, ClientID: key.ClientID, Content: content},
		},
	}, true, nil
}

func (b *Bolt[T, D]) getRecord(bucket []byte, key document.Key) (shadowRecord, bool, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(boltKey(key)); v != nil {
			raw = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return shadowRecord{}, false, fmt.Errorf("get record: %w", err)
	}
	if raw == nil {
		return shadowRecord{}, false, nil
	}

	var record shadowRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return shadowRecord{}, false, fmt.Errorf("get record: %w", err)
	}
	return record, true, nil
}

// SaveEdit appends the edit to the key's pending queue.
func (b *Bolt[T, D]) SaveEdit(_ context.Context, edit D) error {
	payload, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("save edit: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		queue, err := tx.Bucket(bucketEdits).CreateBucketIfNotExists(boltKey(edit.Key()))
		if err != nil {
			return fmt.Errorf("save edit: %w", err)
		}
		seq, err := queue.NextSequence()
		if err != nil {
			return fmt.Errorf("save edit: %w", err)
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return queue.Put(seqKey[:], payload)
	})
}

// GetEdits returns the key's pending edits in FIFO order.
func (b *Bolt[T, D]) GetEdits(_ context.Context, key document.Key) ([]D, error) {
	var edits []D
	err := b.db.View(func(tx *bolt.Tx) error {
		queue := tx.Bucket(bucketEdits).Bucket(boltKey(key))
		if queue == nil {
			return nil
		}
		return queue.ForEach(func(_, payload []byte) error {
			var edit D
			if err := json.Unmarshal(payload, &edit); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			edits = append(edits, edit)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get edits: %w", err)
	}
	return edits, nil
}

// RemoveEdit removes the first queued edit equal to edit.
func (b *Bolt[T, D]) RemoveEdit(_ context.Context, edit D) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		queue := tx.Bucket(bucketEdits).Bucket(boltKey(edit.Key()))
		if queue == nil {
			return nil
		}
		c := queue.Cursor()
		for k, payload := c.First(); k != nil; k, payload = c.Next() {
			var queued D
			if err := json.Unmarshal(payload, &queued); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			if queued.Equal(edit) {
				return queue.Delete(k)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove edit: %w", err)
	}
	return nil
}

// RemoveEdits empties the key's pending queue.
func (b *Bolt[T, D]) RemoveEdits(_ context.Context, key document.Key) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		edits := tx.Bucket(bucketEdits)
		if edits.Bucket(boltKey(key)) == nil {
			return nil
		}
		return edits.DeleteBucket(boltKey(key))
	})
	if err != nil {
		return fmt.Errorf("remove edits: %w", err)
	}
	return nil
}
