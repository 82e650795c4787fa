package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/wellness-sync/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestDocumentStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := DocumentStats(context.Background(), db, "u1", "stresslevel")
	if err == nil {
		t.Fatalf("expected error due to missing documents table")
	}
}

func TestDocumentStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Document{})
	count, maxAt, err := DocumentStats(context.Background(), db, "u1", "stresslevel")
	if err != nil {
		t.Fatalf("DocumentStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestDocumentStats_CountsScopedCollections_AndTracksWrites(t *testing.T) {
	db := newTestDB(t, &domain.Document{})
	ctx := context.Background()

	if err := AppendDocumentArray(ctx, db, "stresslevel", "u1", "predictions", map[string]any{"predictedClass": "Mild"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendDocumentArray(ctx, db, "musicpredict", "u1", "predictions", map[string]any{"mappedEmotion": "Calm"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := MergeDocument(ctx, db, "users", "u2", map[string]any{"fullName": "Bo"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	count, first, err := DocumentStats(ctx, db, "u1", "stresslevel", "musicpredict")
	if err != nil || count != 2 || first == nil {
		t.Fatalf("stats = (%d, %v, %v); want (2, ts, nil)", count, first, err)
	}
	if c, _, _ := DocumentStats(ctx, db, "u1", "stresslevel"); c != 1 {
		t.Fatalf("scoped count = %d; want 1", c)
	}
	if c, _, _ := DocumentStats(ctx, db, "u1"); c != 2 {
		t.Fatalf("unscoped count = %d; want 2", c)
	}

	time.Sleep(1100 * time.Millisecond)
	if err := AppendDocumentArray(ctx, db, "stresslevel", "u1", "predictions", map[string]any{"predictedClass": "High"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, second, err := DocumentStats(ctx, db, "u1", "stresslevel", "musicpredict")
	if err != nil || second == nil || !second.After(*first) {
		t.Fatalf("expected updated_at to advance: first=%v second=%v err=%v", first, second, err)
	}
}
