// Package gateway is the single point of contact with the remote inference
// services. Each call makes exactly one HTTP request, bounded by the client
// timeout, and classifies every failure as an *apperror.Error:
//
//   - TransportFailure: no endpoint, connection error, timeout.
//   - ServerRejected: non-2xx status; the message comes from the service's
//     {"error": "..."} body when present.
//   - MalformedResponse: a 2xx reply that is not a JSON object.
//
// Requests carry either a JSON object body or a single multipart file part.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/config"
)

// Kind identifies one inference endpoint.
type Kind string

const (
	KindStress       Kind = "stress"
	KindStudyPlan    Kind = "study-plan"
	KindDoctor       Kind = "doctor-recommendation"
	KindEmotionFace  Kind = "emotion-face"
	KindEmotionAudio Kind = "emotion-audio"
	KindMusic        Kind = "music"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindStress, KindStudyPlan, KindDoctor, KindEmotionFace, KindEmotionAudio, KindMusic}

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 4 << 20

// Payload is a request body: JSONPayload or Attachment.
type Payload interface {
	encode() (body io.Reader, contentType string, err error)
}

// JSONPayload is sent as an application/json object.
type JSONPayload map[string]any

func (p JSONPayload) encode() (io.Reader, string, error) {
	if p == nil {
		p = JSONPayload{}
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(b), "application/json", nil
}

// Attachment is sent as one named part of a multipart/form-data body.
type Attachment struct {
	Field       string // form field name, e.g. "image_file"
	FileName    string
	ContentType string // e.g. "image/jpeg"
	Data        []byte
}

func (a Attachment) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, a.Field, a.FileName))
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(a.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Response is a successful reply: a decoded JSON object plus its status.
type Response struct {
	Status int
	Body   map[string]any
}

// Endpoint holds the prediction URL of a kind and the URL probed by Health.
type Endpoint struct {
	PredictURL string
	HealthURL  string
}

// Endpoints maps kinds to their URLs. Kinds without an entry are disabled.
type Endpoints map[Kind]Endpoint

// EndpointsFromConfig derives endpoints from configuration. The emotion base
// URL serves /predict-face, /predict-audio and /health; the other services
// expose /health at their origin.
func EndpointsFromConfig(cfg config.GatewayConfig) Endpoints {
	eps := Endpoints{}
	single := map[Kind]string{
		KindStress:    cfg.StressURL,
		KindStudyPlan: cfg.StudyPlanURL,
		KindDoctor:    cfg.DoctorURL,
		KindMusic:     cfg.MusicURL,
	}
	for k, u := range single {
		if u = strings.TrimSpace(u); u != "" {
			eps[k] = Endpoint{PredictURL: u, HealthURL: originOf(u) + "/health"}
		}
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.EmotionURL), "/"); base != "" {
		eps[KindEmotionFace] = Endpoint{PredictURL: base + "/predict-face", HealthURL: base + "/health"}
		eps[KindEmotionAudio] = Endpoint{PredictURL: base + "/predict-audio", HealthURL: base + "/health"}
	}
	return eps
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return u.Scheme + "://" + u.Host
}

// Client performs inference calls. It is safe for concurrent use.
type Client struct {
	endpoints Endpoints
	http      *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a Client for the given endpoints. Every call is bounded by
// timeout (10s when <= 0) and is traced through otelhttp.
func New(endpoints Endpoints, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		endpoints: endpoints,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether kind has a configured endpoint.
func (c *Client) Enabled(kind Kind) bool {
	_, ok := c.endpoints[kind]
	return ok
}

// Predict sends payload to the endpoint of kind and returns the decoded JSON
// object. Exactly one attempt is made.
func (c *Client) Predict(ctx context.Context, kind Kind, payload Payload) (resp *Response, err error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "Gateway.Predict")
	span.SetAttributes(attribute.String("inference.kind", string(kind)))
	start := time.Now()
	defer func() {
		observe(kind, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ep, ok := c.endpoints[kind]
	if !ok || ep.PredictURL == "" {
		return nil, apperror.New(apperror.KindTransportFailure, fmt.Sprintf("no inference endpoint configured for %s", kind))
	}
	if payload == nil {
		payload = JSONPayload{}
	}
	body, contentType, err := payload.encode()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindTransportFailure, "could not encode inference request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.PredictURL, body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindTransportFailure, "invalid inference endpoint", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// Health probes the health URL of kind. A nil error means the service
// answered 2xx with a JSON body.
func (c *Client) Health(ctx context.Context, kind Kind) error {
	ep, ok := c.endpoints[kind]
	if !ok || ep.HealthURL == "" {
		return apperror.New(apperror.KindTransportFailure, fmt.Sprintf("no inference endpoint configured for %s", kind))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.HealthURL, nil)
	if err != nil {
		return apperror.Wrap(apperror.KindTransportFailure, "invalid inference endpoint", err)
	}
	req.Header.Set("Accept", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) (*Response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, rejected(res.StatusCode, raw)
	}

	mt, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if mt != "application/json" && !strings.HasSuffix(mt, "+json") {
		ct := mt
		if ct == "" {
			ct = "no content type"
		}
		return nil, &apperror.Error{
			Kind:    apperror.KindMalformedResponse,
			Message: fmt.Sprintf("inference service returned non-JSON content (%s)", ct),
			Status:  res.StatusCode,
		}
	}

	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &apperror.Error{
			Kind:    apperror.KindMalformedResponse,
			Message: "inference service returned an invalid JSON object",
			Status:  res.StatusCode,
			Err:     err,
		}
	}
	return &Response{Status: res.StatusCode, Body: body}, nil
}

func transportError(err error) *apperror.Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return apperror.Wrap(apperror.KindTransportFailure, "inference service timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperror.Wrap(apperror.KindTransportFailure, "inference request canceled", err)
	}
	return apperror.Wrap(apperror.KindTransportFailure, "inference service unreachable", err)
}

// rejected builds a ServerRejected error, preferring the service's own
// {"error": "..."} message.
func rejected(status int, raw []byte) *apperror.Error {
	e := &apperror.Error{
		Kind:    apperror.KindServerRejected,
		Message: fmt.Sprintf("inference service returned status %d", status),
		Status:  status,
	}
	var body map[string]any
	if json.Unmarshal(raw, &body) == nil && body != nil {
		e.Payload = body
		if msg, ok := body["error"].(string); ok && strings.TrimSpace(msg) != "" {
			e.Message = msg
		}
	}
	return e
}
