package repo

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements the document store contract over Cloud
// Firestore. Collections and document keys map one to one.
//
// SetMerge uses Set with MergeAll (nested maps merge). AppendToArray uses
// ArrayUnion, which Firestore applies server-side. ArrayUnion skips elements
// equal to one already present, so callers that need every append kept must
// make entries unique (the services add an entry id). Commit runs its writes
// in one transaction.
type FirestoreStore struct {
	Client *firestore.Client
}

// NewFirestoreStore connects to the given project using application default
// credentials.
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	c, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &FirestoreStore{Client: c}, nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error { return s.Client.Close() }

// Get loads a document body or returns ErrNotFound.
func (s *FirestoreStore) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	snap, err := s.Client.Collection(collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	data := snap.Data()
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// SetMerge merge-upserts partial into the document.
func (s *FirestoreStore) SetMerge(ctx context.Context, collection, key string, partial map[string]any) error {
	_, err := s.Client.Collection(collection).Doc(key).Set(ctx, firestoreData(MergeWrite(collection, key, partial)), firestore.MergeAll)
	return err
}

// Commit applies writes in one transaction: all of them or none.
func (s *FirestoreStore) Commit(ctx context.Context, writes ...Write) error {
	for _, w := range writes {
		if w.IsAppend() {
			if _, err := fieldPath(w.Field); err != nil {
				return err
			}
		}
	}
	return s.Client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for _, w := range writes {
			if err := tx.Set(s.Client.Collection(w.Collection).Doc(w.Key), firestoreData(w), firestore.MergeAll); err != nil {
				return err
			}
		}
		return nil
	})
}

// firestoreData is the Set body for w.
func firestoreData(w Write) map[string]any {
	if w.IsAppend() {
		return map[string]any{w.Field: firestore.ArrayUnion(w.Element)}
	}
	if w.Partial == nil {
		return map[string]any{}
	}
	return w.Partial
}

// AppendToArray appends element to the array under field, creating the
// document when absent.
func (s *FirestoreStore) AppendToArray(ctx context.Context, collection, key, field string, element any) error {
	if _, err := fieldPath(field); err != nil {
		return err
	}
	_, err := s.Client.Collection(collection).Doc(key).Set(ctx,
		firestoreData(AppendWrite(collection, key, field, element)),
		firestore.MergeAll,
	)
	return err
}
