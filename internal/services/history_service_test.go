package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/domain"
)

func TestLoadRecent_LastNOldestFirst(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = st.AppendToArray(ctx, domain.CollectionPerf, "a@b.c", "historicalData", map[string]any{"i": fmt.Sprint(i)})
	}
	h := NewHistoryService(st)

	v, err := h.LoadRecent(ctx, "a@b.c", []domain.Domain{domain.DomainPerformance}, 2)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	got := v.Domains[domain.DomainPerformance]
	if len(got) != 2 || got[0]["i"] != "3" || got[1]["i"] != "4" {
		t.Fatalf("expected [entries[3], entries[4]], got %#v", got)
	}
	if v.Empty {
		t.Fatalf("view must not be empty")
	}
}

func TestLoadRecent_DefaultN_And_ShortHistory(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = st.AppendToArray(ctx, domain.CollectionStress, "a@b.c", "predictions", map[string]any{"i": i})
	}
	_ = st.AppendToArray(ctx, domain.CollectionEmotion, "a@b.c", "emotions", map[string]any{"emotion": "happy"})

	v, err := NewHistoryService(st).LoadRecent(ctx, "a@b.c", []domain.Domain{domain.DomainStress, domain.DomainEmotion}, 0)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if n := len(v.Domains[domain.DomainStress]); n != DefaultHistoryN {
		t.Fatalf("expected default window %d, got %d", DefaultHistoryN, n)
	}
	if n := len(v.Domains[domain.DomainEmotion]); n != 1 {
		t.Fatalf("expected the single emotion entry, got %d", n)
	}
}

func TestLoadRecent_AllAbsent_IsEmpty(t *testing.T) {
	st := newStore(t)
	v, err := NewHistoryService(st).LoadRecent(context.Background(), "a@b.c", nil, 3)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if !v.Empty {
		t.Fatalf("expected Empty view, got %#v", v)
	}
	for _, d := range DefaultHistoryDomains {
		if e, ok := v.Domains[d]; !ok || len(e) != 0 {
			t.Fatalf("domain %s: expected empty slice, got %#v", d, e)
		}
	}
}

func TestLoadRecent_OneNonEmpty_IsNotEmpty(t *testing.T) {
	st := newStore(t)
	_ = st.AppendToArray(context.Background(), domain.CollectionEmotion, "a@b.c", "emotions", map[string]any{"emotion": "sad"})
	v, err := NewHistoryService(st).LoadRecent(context.Background(), "a@b.c", nil, 3)
	if err != nil || v.Empty {
		t.Fatalf("expected non-empty view, got %#v, %v", v, err)
	}
}

func TestLoadRecent_Errors(t *testing.T) {
	h := NewHistoryService(newStore(t))
	if _, err := h.LoadRecent(context.Background(), "a@b.c", []domain.Domain{domain.DomainStudyPlan}, 3); !errors.Is(err, ErrUnknownDomain) || apperror.KindOf(err) != apperror.KindInvalidInput {
		t.Fatalf("expected ErrUnknownDomain for single-value domain, got %v", err)
	}
	if _, err := h.LoadRecent(context.Background(), "", nil, 3); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	bad := NewHistoryService(failingStore{})
	if _, err := bad.LoadRecent(context.Background(), "a@b.c", nil, 3); !errors.Is(err, apperror.ErrStoreFailure) {
		t.Fatalf("expected StoreFailure, got %v", err)
	}
}
