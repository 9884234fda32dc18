package generation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/xmx0632/photoshow/errors"
)

// Info describes decoded image bytes.
type Info struct {
	Format      string
	ContentType string
	Width       int
	Height      int
}

var contentTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Inspect decodes the image header of data.
func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: not a supported image: %v", errors.ErrInvalidData, err)
	}
	return Info{
		Format:      format,
		ContentType: contentTypes[format],
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

// Extension returns the file extension of a format, with the dot.
func (i Info) Extension() string {
	if i.Format == "jpeg" {
		return ".jpg"
	}
	return "." + i.Format
}
