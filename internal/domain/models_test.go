package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (Document{}).TableName() != "documents" {
		t.Fatalf("Document.TableName() = %q; want %q", (Document{}).TableName(), "documents")
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q; want %q", (Idempotency{}).TableName(), "idempotency")
	}
}

func TestDocument_Migration_CompositeKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasColumn(&Document{}, "doc_key") {
		t.Fatalf("expected column doc_key")
	}

	now := time.Now().UTC()
	d := &Document{Collection: CollectionStress, Key: "a@b.c", Data: datatypes.JSON(`{"predictions":[]}`), CreatedAt: now, UpdatedAt: now}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Same key in a different collection is a different document.
	other := &Document{Collection: CollectionMusic, Key: "a@b.c", Data: datatypes.JSON(`{}`)}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other collection: %v", err)
	}
	// Same (collection, key) must be rejected.
	dup := &Document{Collection: CollectionStress, Key: "a@b.c", Data: datatypes.JSON(`{}`)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected primary key violation on (collection, doc_key)")
	}

	var got Document
	if err := db.First(&got, "collection = ? AND doc_key = ?", CollectionStress, "a@b.c").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if string(got.Data) != `{"predictions":[]}` {
		t.Fatalf("unexpected data: %s", got.Data)
	}
}

func TestParseDomain_And_Bindings(t *testing.T) {
	for _, name := range []string{"stress", "Music", " doctor ", "study-plan", "EMOTION", "performance"} {
		d, err := ParseDomain(name)
		if err != nil {
			t.Fatalf("ParseDomain(%q): %v", name, err)
		}
		if _, ok := d.Binding(); !ok {
			t.Fatalf("missing binding for %q", d)
		}
	}
	if _, err := ParseDomain("weather"); err == nil {
		t.Fatalf("expected error for unknown domain")
	}

	b, _ := DomainStudyPlan.Binding()
	if b.IsHistory() {
		t.Fatalf("study-plan must be a single merged value")
	}
	b, _ = DomainStress.Binding()
	if !b.IsHistory() || b.Collection != "stresslevel" || b.Field != "predictions" || b.LabelKey != "predictedClass" {
		t.Fatalf("unexpected stress binding: %+v", b)
	}
}

func TestUnknownView(t *testing.T) {
	v := UnknownView(DomainMusic)
	if v.Known || v.Label != UnknownLabel || v.Domain != DomainMusic {
		t.Fatalf("unexpected sentinel: %+v", v)
	}
}
