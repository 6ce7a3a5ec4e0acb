package models

// AttachmentType classifies an attached file.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment represents a file attached to a message. Uploading is handled
// elsewhere; the sync core only carries the reference.
type Attachment struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	Size      int64          `json:"size"`
	Type      AttachmentType `json:"type"`
	Thumbnail *string        `json:"thumbnail,omitempty"`
}
