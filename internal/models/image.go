package models

// GeneratedImage is a decoded image produced by the inference provider.
type GeneratedImage struct {
	// Format is the MIME subtype detected from the data-URI (e.g. "png").
	Format string
	// Data holds the decoded image bytes.
	Data []byte
}

// ContentType returns the HTTP content type for the image.
func (g GeneratedImage) ContentType() string {
	if g.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + g.Format
}
