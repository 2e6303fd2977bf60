package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Content types recorded on a ContentRecord. Video content carries raw
// material (a transcript); visual content carries extracted text.
const (
	ContentTypeVideo  = "video"
	ContentTypeVisual = "visual"
)

// ContentRecord is the durable knowledge record produced for one capture.
// It is keyed by fingerprint (the capture filename) and always replaced by
// delete-then-insert, never partially updated, because successive pipeline
// versions may change the analysis shape.
type ContentRecord struct {
	ID                 uint        `gorm:"primaryKey" json:"id"`
	Fingerprint        string      `gorm:"type:text;not null;uniqueIndex:idx_content_fingerprint" json:"fingerprint"`
	ContentType        string      `gorm:"type:text;index:idx_content_type" json:"content_type"`
	Title              string      `gorm:"type:text" json:"title"`
	Channel            string      `gorm:"type:text" json:"channel,omitempty"`
	SourceURL          string      `gorm:"type:text" json:"source_url,omitempty"`
	CaptureURL         string      `gorm:"type:text" json:"capture_url,omitempty"`
	Width              int         `json:"width,omitempty"`
	Height             int         `json:"height,omitempty"`
	RawMaterial        string      `gorm:"type:text" json:"raw_material,omitempty"`
	StructuredAnalysis string      `gorm:"type:text" json:"structured_analysis"`
	KeyInsights        StringArray `gorm:"type:text" json:"key_insights"`
	Topics             StringArray `gorm:"type:text" json:"topics"`
	PeopleMentioned    StringArray `gorm:"type:text" json:"people_mentioned"`
	QualityFlags       StringArray `gorm:"type:text" json:"quality_flags"`
	Confidence         float64     `json:"confidence"`
	Cost               float64     `json:"cost"`
	ProcessedAt        time.Time   `json:"processed_at"`
}

// TableName returns the database table name for ContentRecord.
func (ContentRecord) TableName() string {
	return "content_records"
}

// Quality flags recorded when a processing step degraded rather than failed.
const (
	FlagFallbackMetadata      = "fallback_metadata"
	FlagTranscriptUnavailable = "transcript_unavailable"
	FlagUnparseableAnalysis   = "unparseable_analysis"
)
