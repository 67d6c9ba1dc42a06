package source

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/docscan-cli/internal/model"
)

// Dataset line fields.
const (
	fieldID    = "id"
	fieldImage = "image"
	fieldText  = "text"
)

// maxLineBytes bounds a single dataset line; lines carry whole images.
const maxLineBytes = 64 << 20

// Dataset reads a JSON Lines file where each line holds a base64 "image",
// an optional "text" reference transcription and an optional "id". Lines
// without an id are numbered from zero. Every field other than the image is
// echoed back in the output record. Blank lines are skipped.
//
// A line that cannot be turned into a document (bad JSON, no image, bad
// base64) still yields a Document with Invalid set, so it fails on its own
// without stopping the run. Two lines with the same id are an input error.
func Dataset(path string) ([]model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)

	var docs []model.Document
	lineOf := make(map[string]int)
	index, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		doc := parseLine(line, index)
		if doc.Invalid != nil {
			doc.Invalid = eris.Wrapf(doc.Invalid, "source: %s line %d", path, lineNo)
			zap.L().Warn("source: invalid dataset line",
				zap.String("document_id", doc.ID),
				zap.Int("line", lineNo),
				zap.Error(doc.Invalid),
			)
		}
		if prev, dup := lineOf[doc.ID]; dup {
			return nil, eris.Errorf("source: %s: duplicate id %q on lines %d and %d", path, doc.ID, prev, lineNo)
		}
		lineOf[doc.ID] = lineNo
		docs = append(docs, doc)
		index++
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "source: scan %s", path)
	}
	if len(docs) == 0 {
		return nil, eris.Wrapf(ErrNoDocuments, "source: %s is empty", path)
	}
	return docs, nil
}

func parseLine(line []byte, index int) model.Document {
	doc := model.Document{ID: strconv.Itoa(index), ReferenceText: model.NotAvailable}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		doc.Invalid = eris.Wrap(err, "invalid JSON")
		return doc
	}

	if v, ok := rec[fieldID]; ok && v != nil {
		doc.ID = fmt.Sprint(v)
	}
	if t, ok := rec[fieldText].(string); ok && strings.TrimSpace(t) != "" {
		doc.ReferenceText = norm.NFC.String(t)
	}
	rawImage, _ := rec[fieldImage].(string)
	delete(rec, fieldImage)
	doc.Input = rec

	if strings.TrimSpace(rawImage) == "" {
		doc.Invalid = eris.New(`missing "image"`)
		return doc
	}
	data, err := decodeBase64(rawImage)
	if err != nil {
		doc.Invalid = eris.Wrap(err, `invalid base64 in "image"`)
		return doc
	}
	doc.Image = model.Image{Data: data, MIME: SniffMIME(data)}
	return doc
}

// decodeBase64 accepts standard or URL-safe base64, padded or not, with or
// without a data: URL prefix.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		data, err := enc.DecodeString(s)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = eris.New("empty image")
	}
	return nil, lastErr
}
