package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tbourn/wellness-sync/internal/apperror"
)

// Result field names returned by the inference services.
const (
	FieldStressClass      = "predicted_class"
	FieldStudyPlan        = "Predicted Study Plan"
	FieldDoctorName       = "predicted_name"
	FieldEmotion          = "emotion"
	FieldConfidence       = "confidence"
	FieldMappedEmotion    = "mapped_emotion"
	FieldRecommendedPlist = "recommended_playlist"
	FieldWeather          = "weather"
)

// StressResult is the stress classifier's answer.
type StressResult struct {
	Class string
}

// StudyPlanResult is the study-plan recommender's answer.
type StudyPlanResult struct {
	Plan string
}

// DoctorResult is the doctor recommender's answer.
type DoctorResult struct {
	Name string
}

// EmotionResult is the face/audio emotion classifier's answer.
type EmotionResult struct {
	Emotion    string
	Confidence float64
}

// MusicResult is the music recommender's answer. Weather is optional.
type MusicResult struct {
	MappedEmotion       string
	RecommendedPlaylist string
	Weather             string
}

// DecodeStress reads predicted_class.
func DecodeStress(r *Response) (StressResult, error) {
	s, err := requiredString(r, FieldStressClass)
	return StressResult{Class: s}, err
}

// DecodeStudyPlan reads "Predicted Study Plan".
func DecodeStudyPlan(r *Response) (StudyPlanResult, error) {
	s, err := requiredString(r, FieldStudyPlan)
	return StudyPlanResult{Plan: s}, err
}

// DecodeDoctor reads predicted_name.
func DecodeDoctor(r *Response) (DoctorResult, error) {
	s, err := requiredString(r, FieldDoctorName)
	return DoctorResult{Name: s}, err
}

// DecodeEmotion reads emotion and confidence. Confidence may be a number or
// a numeric string.
func DecodeEmotion(r *Response) (EmotionResult, error) {
	e, err := requiredString(r, FieldEmotion)
	if err != nil {
		return EmotionResult{}, err
	}
	conf, err := requiredNumber(r, FieldConfidence)
	if err != nil {
		return EmotionResult{}, err
	}
	return EmotionResult{Emotion: e, Confidence: conf}, nil
}

// DecodeMusic reads mapped_emotion, recommended_playlist and the optional weather.
func DecodeMusic(r *Response) (MusicResult, error) {
	m, err := requiredString(r, FieldMappedEmotion)
	if err != nil {
		return MusicResult{}, err
	}
	p, err := requiredID(r, FieldRecommendedPlist)
	if err != nil {
		return MusicResult{}, err
	}
	w, _ := r.Body[FieldWeather].(string)
	return MusicResult{MappedEmotion: m, RecommendedPlaylist: p, Weather: strings.TrimSpace(w)}, nil
}

func malformed(format string, args ...any) *apperror.Error {
	return apperror.New(apperror.KindMalformedResponse, fmt.Sprintf(format, args...))
}

func requiredString(r *Response, field string) (string, error) {
	if r == nil || r.Body == nil {
		return "", malformed("inference response is empty")
	}
	v, ok := r.Body[field]
	if !ok {
		return "", malformed("inference response is missing %q", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed("inference response field %q is not a string", field)
	}
	if s = strings.TrimSpace(s); s == "" {
		return "", malformed("inference response field %q is empty", field)
	}
	return s, nil
}

// requiredID accepts a non-empty string or an integral number.
func requiredID(r *Response, field string) (string, error) {
	if r != nil && r.Body != nil {
		if f, ok := r.Body[field].(float64); ok {
			if f != float64(int64(f)) {
				return "", malformed("inference response field %q is not an identifier", field)
			}
			return strconv.FormatInt(int64(f), 10), nil
		}
	}
	return requiredString(r, field)
}

func requiredNumber(r *Response, field string) (float64, error) {
	if r == nil || r.Body == nil {
		return 0, malformed("inference response is empty")
	}
	switch v := r.Body[field].(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, malformed("inference response field %q is not numeric", field)
		}
		return f, nil
	case nil:
		return 0, malformed("inference response is missing %q", field)
	default:
		return 0, malformed("inference response field %q is not numeric", field)
	}
}
