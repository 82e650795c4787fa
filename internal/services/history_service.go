// Package services – HistoryService
//
// HistoryService assembles the recent window of several prediction domains
// for the performance summary. Each domain is read independently (and
// concurrently); the result of one never depends on another.
package services

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/repo"
)

// DefaultHistoryN is the window size used when n <= 0.
const DefaultHistoryN = 3

// DefaultHistoryDomains are read when the caller names none.
var DefaultHistoryDomains = []domain.Domain{domain.DomainPerformance, domain.DomainStress, domain.DomainEmotion}

// HistoryService reads bounded history windows.
type HistoryService struct {
	Store    DocumentStore
	DefaultN int
}

// NewHistoryService returns a HistoryService with DefaultN = DefaultHistoryN.
func NewHistoryService(store DocumentStore) *HistoryService {
	return &HistoryService{Store: store, DefaultN: DefaultHistoryN}
}

// LoadRecent returns, per domain, the last n entries in insertion order
// (oldest first): for 5 entries and n=2 the slice is [entries[3], entries[4]].
// Absent documents yield empty slices; Empty is true only when every
// requested domain is empty. Single-value domains (study-plan) have no
// history and are rejected with ErrUnknownDomain.
func (s *HistoryService) LoadRecent(ctx context.Context, userID string, domains []domain.Domain, n int) (domain.AggregatedView, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "LoadRecent",
		trace.WithAttributes(attribute.Int("n", n), attribute.Int("domains", len(domains))),
	)
	defer span.End()

	key, err := userKey(userID)
	if err != nil {
		return domain.AggregatedView{}, err
	}
	if n <= 0 {
		n = s.DefaultN
		if n <= 0 {
			n = DefaultHistoryN
		}
	}
	if len(domains) == 0 {
		domains = DefaultHistoryDomains
	}
	for _, d := range domains {
		if b, ok := d.Binding(); !ok || !b.IsHistory() {
			return domain.AggregatedView{}, invalid(ErrUnknownDomain)
		}
	}

	var mu sync.Mutex
	out := make(map[domain.Domain][]domain.Entry, len(domains))
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range domains {
		g.Go(func() error {
			entries, err := s.recent(gctx, d, key, n)
			if err != nil {
				return err
			}
			mu.Lock()
			out[d] = entries
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return domain.AggregatedView{}, err
	}

	empty := true
	for _, e := range out {
		if len(e) > 0 {
			empty = false
			break
		}
	}
	return domain.AggregatedView{Domains: out, Empty: empty}, nil
}

func (s *HistoryService) recent(ctx context.Context, d domain.Domain, key string, n int) ([]domain.Entry, error) {
	b, _ := d.Binding()
	doc, err := s.Store.Get(ctx, b.Collection, key)
	if errors.Is(err, repo.ErrNotFound) {
		return []domain.Entry{}, nil
	}
	if err != nil {
		return nil, apperror.StoreFailure("read", err)
	}
	entries := entriesOf(doc, b.Field)
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
