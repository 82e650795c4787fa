// Package domain defines the persistence models and the value types that
// flow between the document store, the synchronizer services and the HTTP
// layer. Document rows are mapped with GORM; everything else is plain data.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one schema-less document addressed by (collection, key). Its
// body is a JSON object holding nested fields and arrays.
//
// Fields:
//   - Collection: named collection, e.g. "stresslevel".
//   - Key: document key within the collection (lower-cased user id for per-user docs).
//   - Data: the JSON object body.
//   - CreatedAt / UpdatedAt: row timestamps managed by the store.
type Document struct {
	Collection string         `json:"collection" gorm:"type:varchar(64);primaryKey"`
	Key        string         `json:"key"        gorm:"column:doc_key;type:varchar(255);primaryKey"`
	Data       datatypes.JSON `json:"data"       gorm:"type:json;not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"index"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// Collection names used by the application.
const (
	CollectionUsers      = "users"
	CollectionBackground = "background"
	CollectionStress     = "stresslevel"
	CollectionMusic      = "musicpredict"
	CollectionDoctorRecs = "doctor_recommendations"
	CollectionEmotion    = "emotion_recognition"
	CollectionStudyPlans = "study_plans"
	CollectionPerf       = "Performance"
	CollectionDoctors    = "Doctors"
	CollectionPlaylists  = "Playlists"
)

// Entry is one element of an append-only history array.
type Entry = map[string]any

// Common entry keys.
const (
	FieldTimestamp = "timestamp"
	// FieldEntryID makes every appended entry distinct, even when two
	// sessions store the same result in the same millisecond.
	FieldEntryID = "entryId"
)

// TimestampLayout is the entry timestamp format: UTC with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
