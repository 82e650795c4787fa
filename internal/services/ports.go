package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/gateway"
	"github.com/tbourn/wellness-sync/internal/repo"
)

// DocumentStore is the contract the services need from a document database.
// Get returns repo.ErrNotFound for an absent document. AppendToArray must be
// atomic on the server side; SetMerge creates the document when absent.
// Commit applies several writes as one unit: all or none.
type DocumentStore interface {
	Get(ctx context.Context, collection, key string) (map[string]any, error)
	SetMerge(ctx context.Context, collection, key string, partial map[string]any) error
	AppendToArray(ctx context.Context, collection, key, field string, element any) error
	Commit(ctx context.Context, writes ...repo.Write) error
}

// Predictor performs one inference call.
type Predictor interface {
	Predict(ctx context.Context, kind gateway.Kind, payload gateway.Payload) (*gateway.Response, error)
}

// Clock supplies timestamps. Entries are stamped with the local clock in
// domain.TimestampLayout.
type Clock func() time.Time

func (c Clock) stamp() string {
	now := time.Now
	if c != nil {
		now = c
	}
	return now().UTC().Format(domain.TimestampLayout)
}

// stampEntry sets the entry id and timestamp on e and returns the timestamp.
func (c Clock) stampEntry(e domain.Entry) string {
	ts := c.stamp()
	e[domain.FieldEntryID] = uuid.NewString()
	e[domain.FieldTimestamp] = ts
	return ts
}

// userKey derives the document key for a signed-in user: the trimmed,
// lower-cased identifier (email addresses in practice).
func userKey(userID string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(userID))
	if k == "" {
		return "", apperror.Unauthenticated("no signed-in user")
	}
	return k, nil
}
