package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MediaAttachment is a photo attached to a report, held in memory as raw
// bytes and persisted as a data URI.
type MediaAttachment struct {
	MIME string `json:"mime"`
	Data []byte `json:"-"`
}

const dataURIPrefix = "data:"

// Validate checks the MIME type against the hazard API's accepted image
// formats and enforces the size cap. maxBytes <= 0 rejects all attachments.
func (m *MediaAttachment) Validate(maxBytes int64) error {
	if !validMediaType(m.MIME) {
		return fmt.Errorf("%w: unsupported media type %q", ErrInvalidPayload, m.MIME)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: media attachment is empty", ErrInvalidPayload)
	}
	if maxBytes <= 0 || int64(len(m.Data)) > maxBytes {
		return fmt.Errorf("%w: media attachment is %d bytes, limit is %d", ErrInvalidPayload, len(m.Data), maxBytes)
	}
	return nil
}

// DataURI encodes the attachment as "data:<mime>;base64,<payload>".
func (m *MediaAttachment) DataURI() string {
	return dataURIPrefix + m.MIME + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// ParseDataURI decodes a data URI produced by DataURI. Only base64-encoded
// URIs are accepted; the percent-encoded form never appears in this system.
func ParseDataURI(uri string) (*MediaAttachment, error) {
	rest, ok := strings.CutPrefix(uri, dataURIPrefix)
	if !ok {
		return nil, fmt.Errorf("parse data uri: missing %q prefix", dataURIPrefix)
	}
	mime, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, fmt.Errorf("parse data uri: not base64-encoded")
	}
	if mime == "" {
		return nil, fmt.Errorf("parse data uri: empty media type")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("parse data uri: %w", err)
	}
	return &MediaAttachment{MIME: mime, Data: data}, nil
}

// validMediaType accepts the image formats the hazard API ingests (exact matches only).
func validMediaType(value string) bool {
	switch value {
	case "image/jpeg", "image/png", "image/webp", "image/heic":
		return true
	}
	return false
}
