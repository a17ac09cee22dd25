package chat

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

var dataURIPattern = regexp.MustCompile(`^data:(image/(?:jpeg|png|gif|webp));base64,(.+)$`)

// Image is an inline image recovered from a data URI.
type Image struct {
	MediaType string
	// Data is the base64 payload exactly as it appeared in the URI.
	Data string
}

// ParseDataURI decodes data:image/<jpeg|png|gif|webp>;base64,<payload>.
// Any other shape reports false.
func ParseDataURI(uri string) (Image, bool) {
	m := dataURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return Image{}, false
	}
	return Image{MediaType: m[1], Data: m[2]}, true
}

// Bytes returns the decoded payload.
func (img Image) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, fmt.Errorf("chat: decode %s payload: %w", img.MediaType, err)
	}
	return b, nil
}

// URI re-encodes the image as a data URI.
func (img Image) URI() string {
	return "data:" + img.MediaType + ";base64," + img.Data
}

// EncodeDataURI builds a data URI for raw image bytes. The media type is
// lower-cased; callers are expected to pass one of the supported image types.
func EncodeDataURI(mediaType string, raw []byte) string {
	return "data:" + strings.ToLower(mediaType) + ";base64," + base64.StdEncoding.EncodeToString(raw)
}
