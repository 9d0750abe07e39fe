// Package manifeststore persists the StoredFile manifest the upload
// pipeline emits per file (spec.md §6: "Manifest (emitted) ... persistence
// is the caller's responsibility"), keyed by a caller-chosen file ID.
//
// This is a supplemented feature: spec.md deliberately leaves manifest
// persistence outside the core's scope, but a usable end-to-end engine
// needs somewhere to keep first_name/encryption/chunk_count between an
// upload and a later download. Grounded on the teacher's boltdb-backed
// queue (daemon/service/dtn_queue.go), generalized from a FIFO to a
// keyed manifest table.
package manifeststore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/quantarax/vaultmesh/internal/chunkformat"
)

var bucketManifests = []byte("manifests")

// ErrNotFound is returned when no manifest exists for the given file ID.
var ErrNotFound = errors.New("manifeststore: manifest not found")

// StoredFile is the per-file manifest the upload pipeline emits: enough
// to start a download (spec.md §3, "StoredFile").
type StoredFile struct {
	FirstName  [32]byte               `json:"first_name"`
	Encryption chunkformat.Encryption `json:"encryption"`
	ChunkCount int64                  `json:"chunk_count"`
}

type wireStoredFile struct {
	FirstName  string `json:"first_name"`
	Tag        string `json:"tag"`
	Nonce      string `json:"nonce"`
	Key        string `json:"key"`
	ChunkCount int64  `json:"chunk_count"`
}

// Store is a boltdb-backed table mapping an arbitrary file ID to its
// StoredFile manifest.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the manifest store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("manifeststore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketManifests)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifeststore: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Put persists the manifest for fileID, overwriting any prior entry.
func (s *Store) Put(fileID string, manifest StoredFile) error {
	wire := wireStoredFile{
		FirstName:  encodeHex(manifest.FirstName[:]),
		Tag:        encodeHex(manifest.Encryption.Tag[:]),
		Nonce:      encodeHex(manifest.Encryption.Nonce[:]),
		Key:        encodeHex(manifest.Encryption.Key[:]),
		ChunkCount: manifest.ChunkCount,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("manifeststore: marshal manifest for %q: %w", fileID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).Put([]byte(fileID), data)
	})
}

// Get retrieves the manifest stored for fileID.
func (s *Store) Get(fileID string) (StoredFile, error) {
	var manifest StoredFile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketManifests).Get([]byte(fileID))
		if data == nil {
			return ErrNotFound
		}
		var wire wireStoredFile
		if err := json.Unmarshal(data, &wire); err != nil {
			return fmt.Errorf("unmarshal manifest for %q: %w", fileID, err)
		}
		if err := decodeHexInto(manifest.FirstName[:], wire.FirstName); err != nil {
			return err
		}
		if err := decodeHexInto(manifest.Encryption.Tag[:], wire.Tag); err != nil {
			return err
		}
		if err := decodeHexInto(manifest.Encryption.Nonce[:], wire.Nonce); err != nil {
			return err
		}
		if err := decodeHexInto(manifest.Encryption.Key[:], wire.Key); err != nil {
			return err
		}
		manifest.ChunkCount = wire.ChunkCount
		return nil
	})
	return manifest, err
}

// Delete removes the manifest stored for fileID, if any.
func (s *Store) Delete(fileID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).Delete([]byte(fileID))
	})
}

// Ping reports whether the underlying database is reachable; used by
// internal/observability's ManifestStoreCheck.
func (s *Store) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeHex(b []byte) string { return hex.EncodeToString(b) }

func decodeHexInto(dst []byte, s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hex field: %w", err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("decoded hex field has %d bytes, want %d", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
