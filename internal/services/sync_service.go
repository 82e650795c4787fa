// Package services – SyncService
//
// SyncService is the prediction result synchronizer. Every submit runs the
// same pipeline:
//
//	Idle → FetchingDependencies → Merging → Requesting → Persisting → Done
//
// and any failure moves it to Failed, recording the stage on the returned
// *apperror.Error. Dependencies (background profile, latest stress label) are
// read fresh from the document store on every call; nothing is cached between
// calls. History entries are appended with the store's atomic append, and only
// after the inference service answered successfully, so a failed call never
// leaves a partial entry behind.
//
// Observability: every public method opens an OpenTelemetry span named after
// the operation; pipeline stages are recorded as span events.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/domain"
	"github.com/tbourn/wellness-sync/internal/fieldmap"
	"github.com/tbourn/wellness-sync/internal/gateway"
	"github.com/tbourn/wellness-sync/internal/geo"
	"github.com/tbourn/wellness-sync/internal/repo"
)

const tracerName = "services/SyncService"

// Keys added to request payloads from dependencies.
const (
	keyMentalStatus = "Mental Status"
	keyEmail        = "email"
)

// SyncService orchestrates reads, inference calls and appends.
type SyncService struct {
	Store   DocumentStore
	Gateway Predictor

	// Optional collaborators.
	Geo     geo.Resolver
	Regions *fieldmap.RegionTable
	Clock   Clock

	// Naming contracts, overridable per deployment.
	ProfileDict fieldmap.Dictionary
	DoctorDict  fieldmap.Dictionary
}

// NewSyncService wires a SyncService with the built-in dictionaries and
// region table.
func NewSyncService(store DocumentStore, gw Predictor) *SyncService {
	return &SyncService{
		Store:       store,
		Gateway:     gw,
		Regions:     fieldmap.NewRegionTable(nil),
		ProfileDict: fieldmap.ProfileDictionary,
		DoctorDict:  fieldmap.DoctorDictionary,
	}
}

// LoadLatest returns the most recent value of domain d for userID. An absent
// document or an empty history yields the Unknown sentinel view, never an
// error.
func (s *SyncService) LoadLatest(ctx context.Context, d domain.Domain, userID string) (domain.LatestView, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "LoadLatest",
		trace.WithAttributes(attribute.String("domain", string(d))),
	)
	defer span.End()

	key, err := userKey(userID)
	if err != nil {
		return domain.UnknownView(d), err
	}
	return s.latest(ctx, d, key)
}

func (s *SyncService) latest(ctx context.Context, d domain.Domain, key string) (domain.LatestView, error) {
	b, ok := d.Binding()
	if !ok {
		return domain.UnknownView(d), invalid(ErrUnknownDomain)
	}
	doc, err := s.Store.Get(ctx, b.Collection, key)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UnknownView(d), nil
	}
	if err != nil {
		return domain.UnknownView(d), apperror.StoreFailure("read", err)
	}

	var src map[string]any
	if b.IsHistory() {
		entries := entriesOf(doc, b.Field)
		if len(entries) == 0 {
			return domain.UnknownView(d), nil
		}
		src = entries[len(entries)-1]
	} else {
		src = doc
	}

	label := ""
	if b.LabelKey != "" {
		label = stringOf(src[b.LabelKey])
		if label == "" {
			return domain.UnknownView(d), nil
		}
	}
	ts := stringOf(src[domain.FieldTimestamp])
	fields := fieldmap.Without(src, b.LabelKey, domain.FieldTimestamp)
	if len(fields) == 0 {
		fields = nil
	}
	return domain.LatestView{Domain: d, Known: true, Label: label, Fields: fields, Timestamp: ts}, nil
}

// profile reads the background profile. A missing profile is an error only
// when required.
func (s *SyncService) profile(ctx context.Context, key string, required bool) (map[string]any, error) {
	doc, err := s.Store.Get(ctx, domain.CollectionBackground, key)
	if errors.Is(err, repo.ErrNotFound) {
		if required {
			return nil, apperror.DependencyMissing("user profile")
		}
		return nil, nil
	}
	if err != nil {
		return nil, apperror.StoreFailure("read", err)
	}
	return doc, nil
}

// latestStress reads the latest stress label. ok is false when none exists.
func (s *SyncService) latestStress(ctx context.Context, key string) (label string, ok bool, err error) {
	v, err := s.latest(ctx, domain.DomainStress, key)
	if err != nil {
		return "", false, err
	}
	return v.Label, v.Known, nil
}

func (s *SyncService) append(ctx context.Context, d domain.Domain, key string, entry domain.Entry) error {
	b, _ := d.Binding()
	if err := s.Store.AppendToArray(ctx, b.Collection, key, b.Field, entry); err != nil {
		return apperror.StoreFailure("append", err)
	}
	return nil
}

// SubmitStress merges the optional profile with the form, asks the stress
// classifier and appends {predictedClass, input, timestamp}.
func (s *SyncService) SubmitStress(ctx context.Context, userID string, form map[string]any) (domain.Prediction, error) {
	ctx, f := startFlow(ctx, tracerName, "SubmitStress")
	defer f.end()

	key, err := userKey(userID)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if len(form) == 0 {
		return domain.Prediction{}, f.fail(invalid(ErrEmptyForm))
	}

	f.enter(StageFetchingDependencies)
	prof, err := s.profile(ctx, key, false)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StageMerging)
	payload := s.payload(prof, nil, form)

	f.enter(StageRequesting)
	resp, err := s.Gateway.Predict(ctx, gateway.KindStress, gateway.JSONPayload(payload))
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	res, err := gateway.DecodeStress(resp)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StagePersisting)
	entry := domain.Entry{"predictedClass": res.Class, "input": form}
	ts := s.Clock.stampEntry(entry)
	if err := s.append(ctx, domain.DomainStress, key, entry); err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StageDone)
	return domain.Prediction{Domain: domain.DomainStress, Label: res.Class, Timestamp: ts}, nil
}

// SubmitStudyPlan requires the background profile and the latest stress
// label (sent as "Mental Status"). On success it commits, as one unit, the
// plan merged into study_plans and a performance snapshot of the form (minus
// the derived "Mental Status") appended to Performance.historicalData.
func (s *SyncService) SubmitStudyPlan(ctx context.Context, userID string, form map[string]any) (domain.Prediction, error) {
	ctx, f := startFlow(ctx, tracerName, "SubmitStudyPlan")
	defer f.end()

	key, err := userKey(userID)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if len(form) == 0 {
		return domain.Prediction{}, f.fail(invalid(ErrEmptyForm))
	}

	f.enter(StageFetchingDependencies)
	prof, err := s.profile(ctx, key, true)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	stress, ok, err := s.latestStress(ctx, key)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if !ok {
		return domain.Prediction{}, f.fail(apperror.DependencyMissing("latest stress prediction"))
	}

	f.enter(StageMerging)
	payload := s.payload(prof, map[string]any{keyMentalStatus: stress}, form)
	payload[keyEmail] = key

	f.enter(StageRequesting)
	resp, err := s.Gateway.Predict(ctx, gateway.KindStudyPlan, gateway.JSONPayload(payload))
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	res, err := gateway.DecodeStudyPlan(resp)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StagePersisting)
	snapshot := fieldmap.Without(form, keyMentalStatus)
	ts := s.Clock.stampEntry(snapshot)
	plan, _ := domain.DomainStudyPlan.Binding()
	perf, _ := domain.DomainPerformance.Binding()
	// The plan and its performance snapshot are stored together or not at all.
	if err := s.Store.Commit(ctx,
		repo.MergeWrite(plan.Collection, key, map[string]any{plan.LabelKey: res.Plan, domain.FieldTimestamp: ts}),
		repo.AppendWrite(perf.Collection, key, perf.Field, snapshot),
	); err != nil {
		return domain.Prediction{}, f.fail(apperror.StoreFailure("commit", err))
	}

	f.enter(StageDone)
	return domain.Prediction{
		Domain:    domain.DomainStudyPlan,
		Label:     res.Plan,
		Fields:    map[string]any{keyMentalStatus: stress},
		Timestamp: ts,
	}, nil
}

// SubmitMusic merges the optional profile and latest stress label with the
// form, asks the music recommender and appends
// {mappedEmotion, recommendedPlaylist, weather, timestamp}.
func (s *SyncService) SubmitMusic(ctx context.Context, userID string, form map[string]any) (domain.Prediction, error) {
	ctx, f := startFlow(ctx, tracerName, "SubmitMusic")
	defer f.end()

	key, err := userKey(userID)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if len(form) == 0 {
		return domain.Prediction{}, f.fail(invalid(ErrEmptyForm))
	}

	f.enter(StageFetchingDependencies)
	prof, err := s.profile(ctx, key, false)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	var deps map[string]any
	stress, ok, err := s.latestStress(ctx, key)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if ok {
		deps = map[string]any{keyMentalStatus: stress}
	}

	f.enter(StageMerging)
	payload := s.payload(prof, deps, form)

	f.enter(StageRequesting)
	resp, err := s.Gateway.Predict(ctx, gateway.KindMusic, gateway.JSONPayload(payload))
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	res, err := gateway.DecodeMusic(resp)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	weather := res.Weather
	if weather == "" {
		weather = strings.TrimSpace(stringOf(form["weather"]))
	}

	f.enter(StagePersisting)
	entry := domain.Entry{
		"mappedEmotion":       res.MappedEmotion,
		"recommendedPlaylist": res.RecommendedPlaylist,
		"weather":             weather,
	}
	ts := s.Clock.stampEntry(entry)
	if err := s.append(ctx, domain.DomainMusic, key, entry); err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StageDone)
	return domain.Prediction{
		Domain:    domain.DomainMusic,
		Label:     res.MappedEmotion,
		Fields:    map[string]any{"recommendedPlaylist": res.RecommendedPlaylist, "weather": weather},
		Timestamp: ts,
	}, nil
}

// LocationInput describes where the user is: an explicit district, device
// coordinates, or a denied location permission.
type LocationInput struct {
	District         string
	Coordinates      *geo.Coordinates
	PermissionDenied bool
}

// SubmitDoctor resolves the user's region, pairs it with the latest stress
// label and asks the doctor recommender. The recommendation is appended to
// doctor_recommendations; the doctor's details are then looked up in
// Doctors/{name} on a best-effort basis.
func (s *SyncService) SubmitDoctor(ctx context.Context, userID string, loc LocationInput) (domain.Prediction, error) {
	ctx, f := startFlow(ctx, tracerName, "SubmitDoctor")
	defer f.end()

	key, err := userKey(userID)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StageFetchingDependencies)
	raw, err := s.resolveDistrict(ctx, loc)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	region := s.regions().Canonical(raw)
	if region == "" {
		return domain.Prediction{}, f.fail(apperror.LocationUnavailable("could not determine district", nil))
	}
	stress, ok, err := s.latestStress(ctx, key)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if !ok {
		return domain.Prediction{}, f.fail(apperror.DependencyMissing("latest stress prediction"))
	}

	f.enter(StageMerging)
	payload := fieldmap.Normalize(map[string]any{"region": region, "stressLevel": stress}, s.DoctorDict)

	f.enter(StageRequesting)
	resp, err := s.Gateway.Predict(ctx, gateway.KindDoctor, gateway.JSONPayload(payload))
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	res, err := gateway.DecodeDoctor(resp)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StagePersisting)
	entry := domain.Entry{
		"predictedDoctor": res.Name,
		"region":          region,
		"stressLevel":     stress,
	}
	ts := s.Clock.stampEntry(entry)
	if err := s.append(ctx, domain.DomainDoctor, key, entry); err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	fields := map[string]any{"region": region, "stressLevel": stress}
	if details := s.doctorDetails(ctx, res.Name); details != nil {
		fields["details"] = details
	}

	f.enter(StageDone)
	return domain.Prediction{Domain: domain.DomainDoctor, Label: res.Name, Fields: fields, Timestamp: ts}, nil
}

// payload builds an inference request body. Each part is normalized on its
// own and the parts are merged in order, so the form, passed last, wins any
// key collision with stored dependencies.
func (s *SyncService) payload(profile, deps, form map[string]any) map[string]any {
	return fieldmap.Merge(
		fieldmap.Normalize(profile, s.ProfileDict),
		fieldmap.Normalize(deps, s.ProfileDict),
		fieldmap.Normalize(form, s.ProfileDict),
	)
}

func (s *SyncService) regions() *fieldmap.RegionTable {
	if s.Regions == nil {
		return fieldmap.NewRegionTable(nil)
	}
	return s.Regions
}

func (s *SyncService) resolveDistrict(ctx context.Context, loc LocationInput) (string, error) {
	if loc.PermissionDenied {
		return "", apperror.LocationUnavailable("location permission denied", nil)
	}
	if d := strings.TrimSpace(loc.District); d != "" {
		return d, nil
	}
	if loc.Coordinates == nil {
		return "", apperror.LocationUnavailable("no location provided", nil)
	}
	if s.Geo == nil {
		return "", apperror.LocationUnavailable("location lookup is not configured", nil)
	}
	d, err := s.Geo.District(ctx, *loc.Coordinates)
	if err != nil {
		return "", apperror.LocationUnavailable("could not determine district", err)
	}
	return d, nil
}

// doctorDetails returns Doctors/{name}.Details[0] or nil.
func (s *SyncService) doctorDetails(ctx context.Context, name string) map[string]any {
	doc, err := s.Store.Get(ctx, domain.CollectionDoctors, name)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("doctor", name).Msg("doctor details lookup failed")
		}
		return nil
	}
	list, _ := doc["Details"].([]any)
	if len(list) == 0 {
		return nil
	}
	d, _ := list[0].(map[string]any)
	return d
}

// Emotion sources.
const (
	SourceFace  = "face"
	SourceAudio = "audio"
)

// SubmitEmotion sends a face image or an audio clip to the emotion
// classifier and appends {emotion, confidence, source, timestamp}.
func (s *SyncService) SubmitEmotion(ctx context.Context, userID, source string, att gateway.Attachment) (domain.Prediction, error) {
	ctx, f := startFlow(ctx, tracerName, "SubmitEmotion", attribute.String("emotion.source", source))
	defer f.end()

	key, err := userKey(userID)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	if len(att.Data) == 0 {
		return domain.Prediction{}, f.fail(invalid(ErrEmptyAttachment))
	}

	var kind gateway.Kind
	switch source {
	case SourceFace:
		kind = gateway.KindEmotionFace
		att = withAttachmentDefaults(att, "image_file", "image.jpg", "image/jpeg")
	case SourceAudio:
		kind = gateway.KindEmotionAudio
		att = withAttachmentDefaults(att, "audio_file", "audio.m4a", "audio/m4a")
	default:
		return domain.Prediction{}, f.fail(invalid(ErrInvalidSource))
	}

	// No stored dependencies: the attachment is the whole request.
	f.enter(StageFetchingDependencies)
	f.enter(StageMerging)

	f.enter(StageRequesting)
	resp, err := s.Gateway.Predict(ctx, kind, att)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}
	res, err := gateway.DecodeEmotion(resp)
	if err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StagePersisting)
	entry := domain.Entry{
		"emotion":    res.Emotion,
		"confidence": res.Confidence,
		"source":     source,
	}
	ts := s.Clock.stampEntry(entry)
	if err := s.append(ctx, domain.DomainEmotion, key, entry); err != nil {
		return domain.Prediction{}, f.fail(err)
	}

	f.enter(StageDone)
	return domain.Prediction{
		Domain:    domain.DomainEmotion,
		Label:     res.Emotion,
		Fields:    map[string]any{"confidence": res.Confidence, "source": source},
		Timestamp: ts,
	}, nil
}

func withAttachmentDefaults(a gateway.Attachment, field, name, contentType string) gateway.Attachment {
	if a.Field == "" {
		a.Field = field
	}
	if a.FileName == "" {
		a.FileName = name
	}
	if a.ContentType == "" || a.ContentType == "application/octet-stream" {
		a.ContentType = contentType
	}
	return a
}

// entriesOf returns the array under field as entries. Non-object elements
// are wrapped as {"value": v} so callers always see objects.
func entriesOf(doc map[string]any, field string) []domain.Entry {
	raw, _ := doc[field].([]any)
	out := make([]domain.Entry, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		} else {
			out = append(out, domain.Entry{"value": v})
		}
	}
	return out
}

// stringOf renders scalar document values. Firestore returns server
// timestamps as time.Time and integers as int64.
func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(domain.TimestampLayout)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
