package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AssetTypeImage = "image"
	AssetTypeVideo = "video"

	// AssetSourceUpload marks user-uploaded media; generated assets carry
	// the job type of the provider that produced them.
	AssetSourceUpload = "upload"
)

type Asset struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Type      string     `json:"type"`
	Source    string     `json:"source"`
	URL       string     `json:"url"`
	FilePath  string     `json:"file_path"`
	FileSize  int64      `json:"file_size"`
	MimeType  string     `json:"mime_type"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
