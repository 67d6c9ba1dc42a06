package source

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Directory reads every .jpg, .jpeg and .png file directly inside dir,
// sorted by name. Each document's ID is the file name without extension.
func Directory(dir string) ([]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, eris.Wrapf(ErrNoDocuments, "source: no jpg/jpeg/png files in %s", dir)
	}
	sort.Strings(names)

	docs := make([]model.Document, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s", path)
		}
		docs = append(docs, model.Document{
			ID:            strings.TrimSuffix(name, filepath.Ext(name)),
			Image:         model.Image{Data: data, MIME: SniffMIME(data)},
			ReferenceText: model.NotAvailable,
			Source:        name,
		})
	}
	return docs, nil
}
