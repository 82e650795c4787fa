// Submit endpoints.
//
//   - POST /stress, /study-plan, /music  (JSON object of form fields)
//   - POST /doctor                       (district, coordinates or denied permission)
//   - POST /emotion/face, /emotion/audio (multipart file field "file")
//
// Each call runs one synchronizer pipeline: read prerequisites, ask the
// inference service, append the result to the user's history.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// submit with the same key exists for (user, route), the handler returns the
// recorded response and sets `Idempotency-Replayed: true` without running the
// pipeline again.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/gateway"
	"github.com/tbourn/wellness-sync/internal/geo"
	"github.com/tbourn/wellness-sync/internal/http/middleware"
	"github.com/tbourn/wellness-sync/internal/repo"
	"github.com/tbourn/wellness-sync/internal/services"
)

// HeaderReplayed marks a response served from an idempotency record.
const HeaderReplayed = "Idempotency-Replayed"

//
// DTOs
//

// FormRequest is a flat JSON object of form fields, e.g.
// {"sleepHours": 6, "studyHours": 4}. Keys are forwarded to the inference
// service after merging with the stored profile; form values win.
type FormRequest map[string]any

// DoctorRequest locates the user for a doctor recommendation. An explicit
// District wins over coordinates; Permission "denied" reports that the device
// refused location access.
type DoctorRequest struct {
	District   string   `json:"district,omitempty" example:"Colombo"`
	Latitude   *float64 `json:"latitude,omitempty" example:"6.9271"`
	Longitude  *float64 `json:"longitude,omitempty" example:"79.8612"`
	Permission string   `json:"permission,omitempty" example:"granted" enums:"granted,denied"`
}

// PredictionResponse wraps the result of a successful submit.
type PredictionResponse struct {
	Prediction domain.Prediction `json:"prediction"`
}

//
// Handlers
//

// SubmitStress godoc
// @ID          submitStress
// @Summary     Predict stress level
// @Description Merges the form with the stored profile, asks the stress model and appends the result to the stress history.
// @Tags        Predictions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.FormRequest  true  "Form fields"
//
// @Success     200  {object}  handlers.PredictionResponse
// @Header      200  {string}  Idempotency-Replayed "true when served from a previous result"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     502  {object}  handlers.ErrorResponse "Inference failure"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /stress [post]
func (h *Handlers) SubmitStress(c *gin.Context) {
	if h.replayed(c) {
		return
	}
	form, okForm := bindForm(c)
	if !okForm {
		return
	}
	p, err := h.sync.SubmitStress(c.Request.Context(), userID(c), form)
	h.respond(c, p, err)
}

// SubmitStudyPlan godoc
// @ID          submitStudyPlan
// @Summary     Predict a study plan
// @Description Requires a stored profile and a stress prediction. The plan replaces the stored study plan.
// @Tags        Predictions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.FormRequest  true  "Form fields"
//
// @Success     200  {object}  handlers.PredictionResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     409  {object}  handlers.ErrorResponse "Profile or stress prediction missing"
// @Failure     502  {object}  handlers.ErrorResponse "Inference failure"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /study-plan [post]
func (h *Handlers) SubmitStudyPlan(c *gin.Context) {
	if h.replayed(c) {
		return
	}
	form, okForm := bindForm(c)
	if !okForm {
		return
	}
	p, err := h.sync.SubmitStudyPlan(c.Request.Context(), userID(c), form)
	h.respond(c, p, err)
}

// SubmitMusic godoc
// @ID          submitMusic
// @Summary     Recommend music
// @Description Pairs the form with the latest stress label and appends the recommended playlist to the music history.
// @Tags        Predictions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.FormRequest  true  "Form fields"
//
// @Success     200  {object}  handlers.PredictionResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     502  {object}  handlers.ErrorResponse "Inference failure"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /music [post]
func (h *Handlers) SubmitMusic(c *gin.Context) {
	if h.replayed(c) {
		return
	}
	form, okForm := bindForm(c)
	if !okForm {
		return
	}
	p, err := h.sync.SubmitMusic(c.Request.Context(), userID(c), form)
	h.respond(c, p, err)
}

// SubmitDoctor godoc
// @ID          submitDoctor
// @Summary     Recommend a doctor
// @Description Resolves the user's district and pairs it with the latest stress label.
// @Tags        Predictions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.DoctorRequest  true  "Location"
//
// @Success     200  {object}  handlers.PredictionResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     409  {object}  handlers.ErrorResponse "Stress prediction missing"
// @Failure     422  {object}  handlers.ErrorResponse "Location unavailable"
// @Failure     502  {object}  handlers.ErrorResponse "Inference failure"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /doctor [post]
func (h *Handlers) SubmitDoctor(c *gin.Context) {
	if h.replayed(c) {
		return
	}
	var req DoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	loc, err := req.location()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	p, err := h.sync.SubmitDoctor(c.Request.Context(), userID(c), loc)
	h.respond(c, p, err)
}

// SubmitFaceEmotion godoc
// @ID          submitFaceEmotion
// @Summary     Recognize emotion from a face image
// @Description Uploads the image to the emotion classifier and appends the result to the emotion history.
// @Tags        Predictions
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID        header    string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries"
// @Param       file             formData  file    true  "Image file"
//
// @Success     200  {object}  handlers.PredictionResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     413  {object}  handlers.ErrorResponse "File too large"
// @Failure     502  {object}  handlers.ErrorResponse "Inference failure"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /emotion/face [post]
func (h *Handlers) SubmitFaceEmotion(c *gin.Context) { h.submitEmotion(c, services.SourceFace) }

// SubmitAudioEmotion godoc
// @ID          submitAudioEmotion
// @Summary     Recognize emotion from an audio clip
// @Description Uploads the clip to the emotion classifier and appends the result to the emotion history.
// @Tags        Predictions
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID        header    string  false "User ID (when JWT is disabled)"  example(student@uni.lk)
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries"
// @Param       file             formData  file    true  "Audio file"
//
// @Success     200  {object}  handlers.PredictionResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     413  {object}  handlers.ErrorResponse "File too large"
// @Failure     502  {object}  handlers.ErrorResponse "Inference failure"
// @Failure     500  {object}  handlers.ErrorResponse "Store failure"
// @Router      /emotion/audio [post]
func (h *Handlers) SubmitAudioEmotion(c *gin.Context) { h.submitEmotion(c, services.SourceAudio) }

func (h *Handlers) submitEmotion(c *gin.Context, source string) {
	if h.replayed(c) {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `multipart field "file" is required`)
		return
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read file")
		return
	}

	att := gateway.Attachment{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}
	p, err := h.sync.SubmitEmotion(c.Request.Context(), userID(c), source, att)
	h.respond(c, p, err)
}

//
// Helpers
//

// bindForm decodes a JSON object body, writing a 400 on failure.
func bindForm(c *gin.Context) (map[string]any, bool) {
	var form FormRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "body too large")
			return nil, false
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body must be a JSON object")
		return nil, false
	}
	return form, true
}

// location validates the request shape and converts it for the service.
func (r DoctorRequest) location() (services.LocationInput, error) {
	loc := services.LocationInput{
		District:         strings.TrimSpace(r.District),
		PermissionDenied: strings.EqualFold(strings.TrimSpace(r.Permission), "denied"),
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return loc, errors.New("latitude and longitude must be given together")
	}
	if r.Latitude != nil {
		at := geo.Coordinates{Latitude: *r.Latitude, Longitude: *r.Longitude}
		if !at.Valid() {
			return loc, errors.New("coordinates out of range")
		}
		loc.Coordinates = &at
	}
	return loc, nil
}

// replayed serves a recorded response when the validated Idempotency-Key was
// already used by this user on this route. It reports whether it wrote one.
func (h *Handlers) replayed(c *gin.Context) bool {
	key, _ := middleware.GetIdempotencyKey(c)
	uid := userID(c)
	if key == "" || uid == "" || h.Idem == nil {
		return false
	}
	rec, err := repo.GetIdempotency(c.Request.Context(), h.Idem, uid, middleware.IdempotencyScope(c), key, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
		return false
	}
	c.Header(HeaderReplayed, "true")
	c.Data(rec.Status, "application/json; charset=utf-8", rec.Response)
	return true
}

// respond writes the submit result and, on success, records it under the
// Idempotency-Key (best effort).
func (h *Handlers) respond(c *gin.Context, p domain.Prediction, err error) {
	if err != nil {
		failErr(c, err)
		return
	}
	resp := PredictionResponse{Prediction: p}

	key, _ := middleware.GetIdempotencyKey(c)
	if uid := userID(c); key != "" && uid != "" && h.Idem != nil {
		body, mErr := json.Marshal(resp)
		if mErr == nil {
			_, mErr = repo.CreateIdempotency(c.Request.Context(), h.Idem, uid, middleware.IdempotencyScope(c), key, http.StatusOK, body, h.IdemTTL)
		}
		if mErr != nil && !errors.Is(mErr, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(mErr).Msg("idempotency record failed")
		}
	}
	ok(c, http.StatusOK, resp)
}
