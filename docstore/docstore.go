// Package docstore persists the locally stored documents: one registration
// record plus one envelope per document, keyed by the document identifier.
// The registration flag and its timestamp are only ever written by the
// registration tracker.
package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.vocdoni.io/dvote/db"
	"golang.org/x/crypto/blake2b"

	"go.veridoc.io/veridoc/document"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/types"
)

var (
	recordPrefix   = []byte("record/")
	envelopePrefix = []byte("envelope/")

	// ErrNotFound is returned when no document exists under the given id.
	ErrNotFound = fmt.Errorf("document not found")
)

// Record is the per-document registration record.
type Record struct {
	DocumentID    types.HexBytes         `json:"documentId"`
	DocumentType  string                 `json:"documentType"`
	Category      types.DocumentCategory `json:"documentCategory"`
	Registered    bool                   `json:"isRegistered"`
	Mock          bool                   `json:"mock"`
	LastCheckedAt time.Time              `json:"lastCheckedAt"`
}

// Store gives access to the stored documents.
type Store struct {
	db db.Database
}

// New creates a Store over the given database.
func New(database db.Database) *Store {
	return &Store{db: database}
}

// DocumentID derives the stable identifier of an envelope: the blake2b hash
// of its canonical serialization with the mutable authority reference
// cleared, so an authority correction does not change the id.
func DocumentID(env *document.Envelope) (types.HexBytes, error) {
	stripped := *env
	stripped.Authority = nil
	data, err := stripped.Marshal()
	if err != nil {
		return nil, err
	}
	h := blake2b.Sum256(data)
	return h[:], nil
}

// legacyTypeTag reproduces the old single type tag kept on records for
// compatibility with earlier exports.
func legacyTypeTag(env *document.Envelope) string {
	tag := string(env.Category)
	if env.Synthetic {
		tag = "mock_" + tag
	}
	return tag
}

// Import stores a new envelope and creates its registration record in the
// unchecked state.
func (s *Store) Import(env *document.Envelope) (*Record, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	id, err := DocumentID(env)
	if err != nil {
		return nil, err
	}
	record := &Record{
		DocumentID:   id,
		DocumentType: legacyTypeTag(env),
		Category:     env.Category,
		Mock:         env.Synthetic,
	}
	raw, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	recordRaw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set(append(envelopePrefix, id...), raw); err != nil {
		return nil, err
	}
	if err := tx.Set(append(recordPrefix, id...), recordRaw); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Infow("document imported", "id", id.String(), "category", string(env.Category))
	return record, nil
}

// List returns all registration records.
func (s *Store) List() ([]*Record, error) {
	var records []*Record
	var cbErr error
	err := s.db.Iterate(recordPrefix, func(_, value []byte) bool {
		r := &Record{}
		if cbErr = json.Unmarshal(value, r); cbErr != nil {
			return false
		}
		records = append(records, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, cbErr
}

// Get returns the registration record of one document.
func (s *Store) Get(id types.HexBytes) (*Record, error) {
	raw, err := s.db.Get(append(recordPrefix, id...))
	if err == db.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r := &Record{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadEnvelope loads and, when needed, migrates a stored envelope. Records
// written before the category split are normalized and persisted back in
// the current format.
func (s *Store) LoadEnvelope(id types.HexBytes) (*document.Envelope, error) {
	raw, err := s.db.Get(append(envelopePrefix, id...))
	if err == db.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	env, err := document.MigrateLegacy(raw)
	if err != nil {
		return nil, err
	}
	migrated, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(raw, migrated) {
		tx := s.db.WriteTx()
		defer tx.Discard()
		if err := tx.Set(append(envelopePrefix, id...), migrated); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		log.Debugw("stored envelope migrated", "id", id.String())
	}
	return env, nil
}

// SaveEnvelope overwrites a stored envelope, typically after an authority
// correction.
func (s *Store) SaveEnvelope(id types.HexBytes, env *document.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set(append(envelopePrefix, id...), raw); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateRegistration sets the registration flag and stamps the check time.
func (s *Store) UpdateRegistration(id types.HexBytes, registered bool) error {
	record, err := s.Get(id)
	if err != nil {
		return err
	}
	record.Registered = registered
	record.LastCheckedAt = time.Now().UTC()
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set(append(recordPrefix, id...), raw); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a document's record and envelope.
func (s *Store) Delete(id types.HexBytes) error {
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Delete(append(recordPrefix, id...)); err != nil {
		return err
	}
	if err := tx.Delete(append(envelopePrefix, id...)); err != nil {
		return err
	}
	return tx.Commit()
}
