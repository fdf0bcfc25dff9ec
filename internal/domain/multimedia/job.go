package multimedia

import "github.com/google/uuid"

// JobProcess is the queue job name for transcoding one upload.
const JobProcess = "multimedia.process"

type ProcessJob struct {
	StagingKey   string    `json:"stagingKey"`
	MultimediaID uuid.UUID `json:"multimediaId"`
	MessageID    uuid.UUID `json:"messageId"`
	OwnerID      uuid.UUID `json:"ownerId"`
	MimeType     string    `json:"mimeType"`
}
