package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - Entries keyed by relative path, times as UnixNano
const CurrentSchemaVersion = 1

const (
	schemaKey = prefixMeta + "__schema__"
	metaKey   = prefixMeta + "__snapshot__"
)

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta describes the last complete snapshot.
type Meta struct {
	Root    string    `json:"root"`
	Count   int       `json:"count"`
	SavedAt time.Time `json:"saved_at"`
}

// GetSchema returns the current schema version, or nil if not set.
func (s *Store) GetSchema() *Schema {
	var schema *Schema
	if err := s.getJSON(schemaKey, &schema); err != nil {
		return nil
	}
	return schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	return s.putJSON(schemaKey, schema)
}

// Meta returns the description of the last complete snapshot.
// It returns ErrNoSnapshot when none was saved or a save was interrupted.
func (s *Store) Meta() (*Meta, error) {
	var meta *Meta
	if err := s.getJSON(metaKey, &meta); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return meta, nil
}

func (s *Store) getJSON(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}
