package liveupload

import (
	"sort"

	"github.com/meancat/panicstream/api"
)

// UploadSession is the in-memory state of one multipart upload. It lives for exactly one run.
type UploadSession struct {
	UploadID       string
	ObjectKey      string
	NextPartNumber int
	CompletedParts []api.CompletedPart
}

func newUploadSession(uploadID, objectKey string) *UploadSession {
	return &UploadSession{
		UploadID:       uploadID,
		ObjectKey:      objectKey,
		NextPartNumber: 1,
	}
}

// recordPart appends the confirmed part and advances the part number.
func (s *UploadSession) recordPart(etag string) api.CompletedPart {
	part := api.CompletedPart{PartNumber: s.NextPartNumber, ETag: etag}
	s.CompletedParts = append(s.CompletedParts, part)
	s.NextPartNumber++
	return part
}

// Parts returns a copy of the completed parts sorted by part number.
func (s *UploadSession) Parts() []api.CompletedPart {
	parts := make([]api.CompletedPart, len(s.CompletedParts))
	copy(parts, s.CompletedParts)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})
	return parts
}
