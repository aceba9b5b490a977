package llm

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ImageLoader turns attachment filenames into inline data-URL content parts.
// Non-image attachments and missing files are skipped silently.
type ImageLoader struct {
	uploadsDir string
}

// NewImageLoader creates a loader rooted at the uploads directory.
func NewImageLoader(uploadsDir string) *ImageLoader {
	return &ImageLoader{uploadsDir: uploadsDir}
}

// Load reads an attachment and returns it as an image content part.
func (l *ImageLoader) Load(filename string) (ContentPart, bool) {
	mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return ContentPart{}, false
	}
	// Uploaded files carry bare names; reject anything trying to escape the
	// uploads directory.
	base := filepath.Base(filename)
	data, err := os.ReadFile(filepath.Join(l.uploadsDir, base))
	if err != nil {
		return ContentPart{}, false
	}
	return ContentPart{
		Type: "image_url",
		ImageURL: &ImageURL{
			URL: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)),
		},
	}, true
}
