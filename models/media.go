package models

// MediaStatus is the lifecycle state of a stored asset. There is no
// transition out of StatusFailed.
type MediaStatus string

const (
	MediaStatusPending  MediaStatus = "pending"
	MediaStatusUploaded MediaStatus = "uploaded"
	MediaStatusFailed   MediaStatus = "failed"
)

// MediaInfo is a transient snapshot of a stored asset. The caller owns any
// durable record, including which provider served the asset.
type MediaInfo struct {
	ID       string      `json:"id"`
	Provider string      `json:"provider"`
	MimeType string      `json:"mime_type"`
	FileName string      `json:"file_name,omitempty"`
	Size     int64       `json:"size,omitempty"`
	URL      string      `json:"url,omitempty"`
	Status   MediaStatus `json:"status"`
}
