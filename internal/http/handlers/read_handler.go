// Read endpoints.
//
//   - GET /profile                      (background profile)
//   - GET /home                         (landing summary)
//   - GET /playlist                     (latest recommended playlist)
//   - GET /predictions/{domain}/latest  (latest value of one domain)
//   - GET /history                      (recent window of several domains)
//
// Reads never fail on absent data: missing documents produce "Unknown"
// labels or empty slices. Profile, home, latest and history carry a weak ETag
// when documents live in SQLite.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/services"
	"github.com/tbourn/wellness-sync/internal/utils"
)

// maxHistoryN bounds the ?n window.
const maxHistoryN = 50

// GetProfile godoc
// @ID          getProfile
// @Summary     Get the background profile
// @Description Returns the stored background profile, or an empty object when none exists. Supports weak ETag.
// @Tags        Views
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object}  map[string]any
// @Success     304  {string}  string "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	if h.notModified(c, "profile", domain.CollectionBackground) {
		return
	}
	p, err := h.views.Profile(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// GetHome godoc
// @ID          getHome
// @Summary     Get the landing summary
// @Description Display name, latest stress level and latest climate; each falls back to "Unknown". Supports weak ETag.
// @Tags        Views
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object}  domain.Home
// @Success     304  {string}  string "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /home [get]
func (h *Handlers) GetHome(c *gin.Context) {
	if h.notModified(c, "home", domain.CollectionUsers, domain.CollectionStress, domain.CollectionMusic) {
		return
	}
	home, err := h.views.Home(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, home)
}

// GetPlaylist godoc
// @ID          getPlaylist
// @Summary     Get the recommended playlist
// @Description Songs of the playlist named by the latest music prediction. Empty when nothing was recommended.
// @Tags        Views
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
//
// @Success     200  {object}  domain.Playlist
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /playlist [get]
func (h *Handlers) GetPlaylist(c *gin.Context) {
	pl, err := h.views.Playlist(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, pl)
}

// GetLatest godoc
// @ID          getLatestPrediction
// @Summary     Get the latest prediction of a domain
// @Description Returns the last history entry (or the single stored value for study-plan). Absent data yields known=false and label "Unknown".
// @Tags        Predictions
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       domain         path    string  true  "Domain"  Enums(stress, music, doctor, study-plan, emotion, performance)
//
// @Success     200  {object}  domain.LatestView
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Unknown domain"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /predictions/{domain}/latest [get]
func (h *Handlers) GetLatest(c *gin.Context) {
	d, err := domain.ParseDomain(c.Param("domain"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	b, _ := d.Binding()
	if h.notModified(c, "latest:"+string(d), b.Collection) {
		return
	}
	view, err := h.sync.LoadLatest(c.Request.Context(), d, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// GetHistory godoc
// @ID          getHistory
// @Summary     Get recent history of several domains
// @Description Returns the last n entries (oldest first) of each requested domain. Defaults to performance, stress and emotion.
// @Tags        Predictions
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       domains        query   string  false "Comma-separated domains"  example(stress,music)
// @Param       n              query   int     false "Entries per domain"  minimum(1) maximum(50)
//
// @Success     200  {object}  domain.AggregatedView
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Unknown or single-value domain"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /history [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	names := utils.SplitList(c.QueryArray("domains")...)
	domains := services.DefaultHistoryDomains
	if len(names) > 0 {
		domains = make([]domain.Domain, 0, len(names))
		for _, name := range names {
			d, err := domain.ParseDomain(name)
			if err != nil {
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
				return
			}
			domains = append(domains, d)
		}
	}

	// n <= 0 selects the service default.
	n := utils.AtoiDefault(c.Query("n"), 0)
	if n > 0 {
		n = utils.Clamp(n, 1, maxHistoryN)
	}

	collections := make([]string, 0, len(domains))
	for _, d := range domains {
		b, _ := d.Binding()
		collections = append(collections, b.Collection)
	}
	// Tag includes the window shape.
	tag := fmt.Sprintf("history:%s:%d", strings.Join(collections, ","), n)
	if h.notModified(c, tag, collections...) {
		return
	}

	view, err := h.history.LoadRecent(c.Request.Context(), userID(c), domains, n)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}
