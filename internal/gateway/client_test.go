package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/config"
)

func newClient(t *testing.T, kind Kind, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Endpoints{kind: {PredictURL: srv.URL + "/predict", HealthURL: srv.URL + "/health"}}, 2*time.Second)
	return c, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPredict_JSONPayload_Success(t *testing.T) {
	var gotCT string
	var gotBody map[string]any
	c, _ := newClient(t, KindStress, func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, 200, map[string]any{"predicted_class": "Mild"})
	})

	resp, err := c.Predict(context.Background(), KindStress, JSONPayload{"Gender": "Female", "failures": "0"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if gotCT != "application/json" || gotBody["Gender"] != "Female" {
		t.Fatalf("unexpected request: ct=%q body=%v", gotCT, gotBody)
	}
	res, err := DecodeStress(resp)
	if err != nil || res.Class != "Mild" {
		t.Fatalf("DecodeStress = (%+v, %v)", res, err)
	}
}

func TestPredict_Attachment_MultipartPart(t *testing.T) {
	c, _ := newClient(t, KindEmotionFace, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("content type %q", r.Header.Get("Content-Type"))
		}
		f, hdr, err := r.FormFile("image_file")
		if err != nil {
			writeJSON(w, 400, map[string]any{"error": "no file"})
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "JPEGDATA" || hdr.Filename != "image.jpg" || hdr.Header.Get("Content-Type") != "image/jpeg" {
			writeJSON(w, 400, map[string]any{"error": "bad part"})
			return
		}
		writeJSON(w, 200, map[string]any{"emotion": "happy", "confidence": 0.91})
	})

	resp, err := c.Predict(context.Background(), KindEmotionFace, Attachment{
		Field: "image_file", FileName: "image.jpg", ContentType: "image/jpeg", Data: []byte("JPEGDATA"),
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	res, err := DecodeEmotion(resp)
	if err != nil || res.Emotion != "happy" || res.Confidence != 0.91 {
		t.Fatalf("DecodeEmotion = (%+v, %v)", res, err)
	}
}

func TestPredict_ServerRejected_UsesServiceMessage(t *testing.T) {
	c, _ := newClient(t, KindStress, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"error": "model unavailable"})
	})
	_, err := c.Predict(context.Background(), KindStress, JSONPayload{})
	if !errors.Is(err, apperror.ErrServerRejected) {
		t.Fatalf("expected ServerRejected, got %v", err)
	}
	ae, _ := apperror.As(err)
	if ae.Message != "model unavailable" || ae.Status != 500 {
		t.Fatalf("unexpected error detail: %+v", ae)
	}
}

func TestPredict_ServerRejected_GenericMessage(t *testing.T) {
	c, _ := newClient(t, KindDoctor, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	_, err := c.Predict(context.Background(), KindDoctor, JSONPayload{})
	ae, ok := apperror.As(err)
	if !ok || ae.Kind != apperror.KindServerRejected || ae.Message != "inference service returned status 502" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPredict_NonJSONContentType_IsMalformed(t *testing.T) {
	c, _ := newClient(t, KindStress, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	})
	_, err := c.Predict(context.Background(), KindStress, JSONPayload{})
	if !errors.Is(err, apperror.ErrMalformedResponse) {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}
}

func TestPredict_InvalidJSONBody_IsMalformed(t *testing.T) {
	c, _ := newClient(t, KindStress, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`["not","an","object"]`))
	})
	_, err := c.Predict(context.Background(), KindStress, JSONPayload{})
	if !errors.Is(err, apperror.ErrMalformedResponse) {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}
}

func TestPredict_Timeout_IsTransportFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	c := New(Endpoints{KindMusic: {PredictURL: srv.URL}}, 50*time.Millisecond)
	_, err := c.Predict(context.Background(), KindMusic, JSONPayload{})
	ae, ok := apperror.As(err)
	if !ok || ae.Kind != apperror.KindTransportFailure || ae.Message != "inference service timed out" {
		t.Fatalf("expected timeout TransportFailure, got %v", err)
	}
}

func TestPredict_Unreachable_And_Unconfigured(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Endpoints{KindStress: {PredictURL: url}}, time.Second)
	if _, err := c.Predict(context.Background(), KindStress, nil); !errors.Is(err, apperror.ErrTransportFailure) {
		t.Fatalf("expected TransportFailure for closed server, got %v", err)
	}
	if _, err := c.Predict(context.Background(), KindDoctor, nil); !errors.Is(err, apperror.ErrTransportFailure) {
		t.Fatalf("expected TransportFailure for unconfigured kind, got %v", err)
	}
	if c.Enabled(KindDoctor) || !c.Enabled(KindStress) {
		t.Fatalf("Enabled mismatch")
	}
}

func TestPredict_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	c, _ := newClient(t, KindStress, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 503, map[string]any{"error": "busy"})
	})
	_, _ = c.Predict(context.Background(), KindStress, JSONPayload{})
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly one attempt, got %d", n)
	}
}

func TestHealth(t *testing.T) {
	c, _ := newClient(t, KindEmotionAudio, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || r.Method != http.MethodGet {
			writeJSON(w, 404, map[string]any{"error": "nope"})
			return
		}
		writeJSON(w, 200, map[string]any{"status": "healthy"})
	})
	if err := c.Health(context.Background(), KindEmotionAudio); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if err := c.Health(context.Background(), KindStress); err == nil {
		t.Fatalf("expected error for unconfigured kind")
	}
}

func TestEndpointsFromConfig(t *testing.T) {
	eps := EndpointsFromConfig(config.GatewayConfig{
		StressURL:  "http://stress:5000/predict",
		EmotionURL: "http://emo:8000/",
	})
	if eps[KindStress].HealthURL != "http://stress:5000/health" {
		t.Fatalf("stress health url: %q", eps[KindStress].HealthURL)
	}
	if eps[KindEmotionFace].PredictURL != "http://emo:8000/predict-face" ||
		eps[KindEmotionAudio].PredictURL != "http://emo:8000/predict-audio" ||
		eps[KindEmotionAudio].HealthURL != "http://emo:8000/health" {
		t.Fatalf("emotion endpoints: %+v", eps)
	}
	if _, ok := eps[KindDoctor]; ok {
		t.Fatalf("doctor must be disabled when unset")
	}
}
