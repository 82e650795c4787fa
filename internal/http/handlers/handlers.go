// Wellness HTTP handlers.
//
// Handlers are transport-thin: they decode input, call the synchronizer and
// view services, and translate results into HTTP responses (including
// conditional and replayed responses). The authenticated user id is read from
// the context populated by middleware.Auth.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/gateway"
	"github.com/tbourn/wellness-sync/internal/http/middleware"
	"github.com/tbourn/wellness-sync/internal/repo"
	"github.com/tbourn/wellness-sync/internal/services"
)

//
// Service contracts (context-aware)
//

// Synchronizer runs the submit pipelines and reads single latest values.
//
// Implementations must be safe for concurrent use and honor ctx.
type Synchronizer interface {
	LoadLatest(ctx context.Context, d domain.Domain, userID string) (domain.LatestView, error)
	SubmitStress(ctx context.Context, userID string, form map[string]any) (domain.Prediction, error)
	SubmitStudyPlan(ctx context.Context, userID string, form map[string]any) (domain.Prediction, error)
	SubmitMusic(ctx context.Context, userID string, form map[string]any) (domain.Prediction, error)
	SubmitDoctor(ctx context.Context, userID string, loc services.LocationInput) (domain.Prediction, error)
	SubmitEmotion(ctx context.Context, userID, source string, att gateway.Attachment) (domain.Prediction, error)
}

// HistoryReader reads bounded history windows.
type HistoryReader interface {
	LoadRecent(ctx context.Context, userID string, domains []domain.Domain, n int) (domain.AggregatedView, error)
}

// ViewReader assembles the landing, playlist and profile views.
type ViewReader interface {
	Home(ctx context.Context, userID string) (domain.Home, error)
	Playlist(ctx context.Context, userID string) (domain.Playlist, error)
	Profile(ctx context.Context, userID string) (map[string]any, error)
}

// InferenceHealth probes the configured inference services.
type InferenceHealth interface {
	Enabled(kind gateway.Kind) bool
	Health(ctx context.Context, kind gateway.Kind) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the API.
type Handlers struct {
	sync    Synchronizer
	history HistoryReader
	views   ViewReader
	health  InferenceHealth

	// Idem holds idempotency records; nil disables replay and recording.
	Idem    *gorm.DB
	IdemTTL time.Duration
	// Stats backs weak ETags; set only when documents live in SQLite.
	Stats *gorm.DB
	// MaxUploadBytes caps emotion attachments.
	MaxUploadBytes int64
	// ReadyTimeout bounds the readiness probe.
	ReadyTimeout time.Duration
}

// New constructs Handlers bound to the given services.
func New(sync Synchronizer, history HistoryReader, views ViewReader, health InferenceHealth) *Handlers {
	return &Handlers{
		sync:           sync,
		history:        history,
		views:          views,
		health:         health,
		IdemTTL:        24 * time.Hour,
		MaxUploadBytes: 10 << 20,
		ReadyTimeout:   3 * time.Second,
	}
}

// userID returns the authenticated user id, or "" when none was resolved;
// the services reject the empty id as Unauthenticated.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

// notModified sets a weak ETag derived from the user's documents in the given
// collections and reports whether If-None-Match already matches it. Without a
// Stats DB (Firestore backend) it is a no-op.
func (h *Handlers) notModified(c *gin.Context, name string, collections ...string) bool {
	uid := userID(c)
	if h.Stats == nil || uid == "" {
		return false
	}
	count, maxTS, err := repo.DocumentStats(c.Request.Context(), h.Stats, uid, collections...)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("etag stats failed")
		return false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, name, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
