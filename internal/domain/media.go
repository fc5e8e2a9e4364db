package domain

import "time"

// ImageRecord is one entry of the generated-image history. The JSON shape is
// the on-disk format of history.json.
type ImageRecord struct {
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	Size      string    `json:"size"`
	Quality   string    `json:"quality"`
}

// AnalyticsEvent names a countable user-visible event.
type AnalyticsEvent string

const (
	EventMessage           AnalyticsEvent = "message"
	EventImageGenerated    AnalyticsEvent = "image_generated"
	EventDocumentProcessed AnalyticsEvent = "document_processed"
	EventAudioProcessed    AnalyticsEvent = "audio_processed"
)

// SessionAnalytics is the on-disk shape of analytics.json.
type SessionAnalytics struct {
	TotalMessages      int       `json:"total_messages"`
	ImagesGenerated    int       `json:"images_generated"`
	DocumentsProcessed int       `json:"documents_processed"`
	AudioProcessed     int       `json:"audio_processed"`
	Sessions           []string  `json:"sessions"`
	LastUpdated        time.Time `json:"last_updated"`
}
