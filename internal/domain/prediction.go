package domain

import (
	"fmt"
	"strings"
)

// Domain names one prediction domain.
type Domain string

const (
	DomainStress      Domain = "stress"
	DomainMusic       Domain = "music"
	DomainDoctor      Domain = "doctor"
	DomainStudyPlan   Domain = "study-plan"
	DomainEmotion     Domain = "emotion"
	DomainPerformance Domain = "performance"
)

// UnknownLabel is the placeholder label for domains without any entry.
const UnknownLabel = "Unknown"

// Binding ties a domain to where its state lives.
//
// History domains keep an append-only array under Field; LabelKey names the
// entry key that holds the predicted label. The study-plan domain is a single
// merged value (Field empty) whose label lives under LabelKey at top level.
type Binding struct {
	Collection string
	Field      string
	LabelKey   string
}

// IsHistory reports whether the domain keeps an append-only entry array.
func (b Binding) IsHistory() bool { return b.Field != "" }

var bindings = map[Domain]Binding{
	DomainStress:      {Collection: CollectionStress, Field: "predictions", LabelKey: "predictedClass"},
	DomainMusic:       {Collection: CollectionMusic, Field: "predictions", LabelKey: "mappedEmotion"},
	DomainDoctor:      {Collection: CollectionDoctorRecs, Field: "predictions", LabelKey: "predictedDoctor"},
	DomainEmotion:     {Collection: CollectionEmotion, Field: "emotions", LabelKey: "emotion"},
	DomainPerformance: {Collection: CollectionPerf, Field: "historicalData"},
	DomainStudyPlan:   {Collection: CollectionStudyPlans, LabelKey: "study_plan"},
}

// Binding returns the storage binding for d.
func (d Domain) Binding() (Binding, bool) {
	b, ok := bindings[d]
	return b, ok
}

// ParseDomain validates a domain name (case-insensitive).
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := bindings[d]; !ok {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return d, nil
}

// LatestView is the "latest value" of one domain for display. When the
// document is absent or its history is empty, Known is false and Label is
// UnknownLabel; it is never a nil/absent result.
type LatestView struct {
	Domain    Domain         `json:"domain"`
	Known     bool           `json:"known"`
	Label     string         `json:"label"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// UnknownView returns the sentinel view for d.
func UnknownView(d Domain) LatestView {
	return LatestView{Domain: d, Known: false, Label: UnknownLabel}
}

// AggregatedView holds the recent window of several domains. Each slice is in
// insertion (oldest-first) order; Empty is true only when all are empty.
type AggregatedView struct {
	Domains map[Domain][]Entry `json:"domains"`
	Empty   bool               `json:"empty"`
}

// Prediction is the result of a successful submit, returned for immediate
// display. Fields carries auxiliary derived values (recommended playlist,
// doctor details, confidence…).
type Prediction struct {
	Domain    Domain         `json:"domain"`
	Label     string         `json:"label"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Home is the landing summary: display name, latest stress and climate.
type Home struct {
	FullName    string `json:"full_name"`
	StressLevel string `json:"stress_level"`
	Climate     string `json:"climate"`
}

// Song is one playlist track.
type Song struct {
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
	URL    string `json:"url"`
	Image  string `json:"image,omitempty"`
}

// Playlist is the recommended playlist of the latest music prediction.
type Playlist struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Songs []Song `json:"songs"`
}
