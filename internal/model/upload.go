package model

import "time"

// Upload is a stored source audio file. It is never modified after it is written.
type Upload struct {
	ID        string    `json:"uploadId"`
	Filename  string    `json:"filename"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// UploadResponse represents the response for an audio upload
type UploadResponse struct {
	UploadID string `json:"uploadId"`
	Filename string `json:"filename"`
	Message  string `json:"message"`
}
