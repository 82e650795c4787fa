// Package repo – document store over SQLite.
//
// Documents are JSON objects addressed by (collection, key) and kept in the
// documents table. The two write primitives are single statements so SQLite's
// write lock makes each of them atomic:
//
//   - MergeDocument: INSERT … ON CONFLICT DO UPDATE with json_patch, i.e. a
//     merge-upsert that creates the document when absent and otherwise
//     merges the partial object into it (nested objects merge recursively).
//
//   - AppendDocumentArray: INSERT … ON CONFLICT DO UPDATE with json_insert at
//     '$."field"[#]', i.e. a server-side append that creates the document and
//     the array when absent. Concurrent appends never lose an element.
//
// WriteDocuments applies several of these in one transaction, so a request
// that touches two documents either writes both or neither.
//
// Reads return the decoded body or ErrNotFound.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/wellness-sync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so both store backends and the
// idempotency helpers share one sentinel.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrInvalidField is returned for array field names that cannot be addressed
// as a JSON path member.
var ErrInvalidField = errors.New("invalid document field name")

const mergeSQL = `INSERT INTO documents (collection, doc_key, data, created_at, updated_at)
VALUES (?, ?, json(?), ?, ?)
ON CONFLICT (collection, doc_key) DO UPDATE SET
	data = json_patch(documents.data, excluded.data),
	updated_at = excluded.updated_at`

const appendSQL = `INSERT INTO documents (collection, doc_key, data, created_at, updated_at)
VALUES (?, ?, json_object(?, json_array(json(?))), ?, ?)
ON CONFLICT (collection, doc_key) DO UPDATE SET
	data = json_insert(
		CASE WHEN json_type(documents.data, ?) = 'array'
			THEN documents.data
			ELSE json_set(documents.data, ?, json('[]'))
		END,
		?, json(?)),
	updated_at = excluded.updated_at`

// GetDocument loads the body of (collection, key). It returns ErrNotFound
// when the document does not exist.
func GetDocument(ctx context.Context, db *gorm.DB, collection, key string) (map[string]any, error) {
	var doc domain.Document
	err := db.WithContext(ctx).
		Where("collection = ? AND doc_key = ?", collection, key).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(doc.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(doc.Data, &out); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return out, nil
}

// MergeDocument merge-upserts partial into (collection, key).
func MergeDocument(ctx context.Context, db *gorm.DB, collection, key string, partial map[string]any) error {
	if partial == nil {
		partial = map[string]any{}
	}
	body, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(mergeSQL, collection, key, string(body), now, now).Error
}

// AppendDocumentArray appends element to the array at field of
// (collection, key), creating the document or the array when absent. A
// non-array value under field is replaced by a one-element array.
func AppendDocumentArray(ctx context.Context, db *gorm.DB, collection, key, field string, element any) error {
	path, err := fieldPath(field)
	if err != nil {
		return err
	}
	body, err := json.Marshal(element)
	if err != nil {
		return err
	}
	elem := string(body)
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(appendSQL,
		collection, key, field, elem, now, now,
		path, path, path+"[#]", elem,
	).Error
}

// Write is one mutation of a batch: a merge of Partial when Field is empty,
// otherwise an append of Element to the array under Field.
type Write struct {
	Collection string
	Key        string
	Partial    map[string]any
	Field      string
	Element    any
}

// MergeWrite describes a merge-upsert of partial into (collection, key).
func MergeWrite(collection, key string, partial map[string]any) Write {
	return Write{Collection: collection, Key: key, Partial: partial}
}

// AppendWrite describes an append of element to the array under field.
func AppendWrite(collection, key, field string, element any) Write {
	return Write{Collection: collection, Key: key, Field: field, Element: element}
}

// IsAppend reports whether w appends to an array.
func (w Write) IsAppend() bool { return w.Field != "" }

// WriteDocuments applies writes in order inside one transaction. Any failure
// rolls back the writes already applied.
func WriteDocuments(ctx context.Context, db *gorm.DB, writes ...Write) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			var err error
			if w.IsAppend() {
				err = AppendDocumentArray(ctx, tx, w.Collection, w.Key, w.Field, w.Element)
			} else {
				err = MergeDocument(ctx, tx, w.Collection, w.Key, w.Partial)
			}
			if err != nil {
				return fmt.Errorf("write %s/%s: %w", w.Collection, w.Key, err)
			}
		}
		return nil
	})
}

// fieldPath quotes a top-level member name as a SQLite JSON path.
func fieldPath(field string) (string, error) {
	if strings.TrimSpace(field) == "" || strings.ContainsAny(field, `"\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	return `$."` + field + `"`, nil
}

// DocumentStore adapts the SQLite document functions to the store contract
// used by the services.
type DocumentStore struct {
	DB *gorm.DB
}

// NewDocumentStore returns a DocumentStore over db.
func NewDocumentStore(db *gorm.DB) *DocumentStore { return &DocumentStore{DB: db} }

// Get loads a document body or returns ErrNotFound.
func (s *DocumentStore) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	return GetDocument(ctx, s.DB, collection, key)
}

// SetMerge merge-upserts partial into the document.
func (s *DocumentStore) SetMerge(ctx context.Context, collection, key string, partial map[string]any) error {
	return MergeDocument(ctx, s.DB, collection, key, partial)
}

// AppendToArray atomically appends element to the array under field.
func (s *DocumentStore) AppendToArray(ctx context.Context, collection, key, field string, element any) error {
	return AppendDocumentArray(ctx, s.DB, collection, key, field, element)
}

// Commit applies writes atomically.
func (s *DocumentStore) Commit(ctx context.Context, writes ...Write) error {
	return WriteDocuments(ctx, s.DB, writes...)
}
