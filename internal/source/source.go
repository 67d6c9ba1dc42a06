// Package source turns an input path into a list of documents: a directory
// of image files or a JSON Lines dataset with base64 images.
package source

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
)

// ErrNoDocuments is returned when an input yields nothing to process.
var ErrNoDocuments = eris.New("no documents found")

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// SniffMIME detects JPEG and PNG from the leading bytes, defaulting to JPEG.
func SniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return model.MIMEPNG
	case bytes.HasPrefix(data, jpegMagic):
		return model.MIMEJPEG
	default:
		return model.MIMEJPEG
	}
}

// Open loads documents from path: a directory is read with Directory, a
// regular file with Dataset.
func Open(path string) ([]model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	if info.IsDir() {
		return Directory(path)
	}
	return Dataset(path)
}
