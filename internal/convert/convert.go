// Package convert turns tabular document datasets (xlsx, csv) into the JSON
// Lines format read by the analysis runner.
package convert

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Output subdirectories.
const (
	WithImagesDir    = "with_images"
	WithoutImagesDir = "without_images"
)

// Canonical dataset keys.
const (
	imageKey = "image"
	textKey  = "text"
)

// ErrNoTables is returned when a directory holds no convertible files.
var ErrNoTables = eris.New("no xlsx or csv files found")

// Options configures a conversion.
type Options struct {
	ReadOptions
	// ImageColumn names the column holding the document image, either a
	// file path (relative to the table) or base64 data. Default "image".
	ImageColumn string
	// TextColumn names the reference transcription column. Default "text".
	TextColumn string
}

func (o Options) withDefaults() Options {
	if o.ImageColumn == "" {
		o.ImageColumn = imageKey
	}
	if o.TextColumn == "" {
		o.TextColumn = textKey
	}
	return o
}

// Result describes one converted table.
type Result struct {
	Source        string `json:"source"`
	Rows          int    `json:"rows"`
	Skipped       int    `json:"skipped"` // rows with an empty image cell
	WithImages    string `json:"with_images"`
	WithoutImages string `json:"without_images"`
}

// Convert converts input, a table file or a directory searched recursively
// for tables, into <outDir>/with_images/<name>.jsonl and
// <outDir>/without_images/<name>.jsonl. The name is the table's path below
// input without its extension, with directories joined by "__"; tables that
// would still share a name keep their extension in it.
func Convert(ctx context.Context, input, outDir string, opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	tables, err := findTables(input, outDir)
	if err != nil {
		return nil, err
	}
	names := outputNames(input, tables)
	for _, dir := range []string{WithImagesDir, WithoutImagesDir} {
		if err := os.MkdirAll(filepath.Join(outDir, dir), 0o755); err != nil {
			return nil, eris.Wrapf(err, "convert: create %s", dir)
		}
	}

	results := make([]Result, 0, len(tables))
	for _, path := range tables {
		zap.L().Info("convert: processing", zap.String("file", path))
		res, err := convertTable(ctx, path, names[path], outDir, opts)
		if err != nil {
			return results, err
		}
		zap.L().Info("convert: wrote table",
			zap.String("file", path),
			zap.Int("rows", res.Rows),
			zap.Int("skipped", res.Skipped),
		)
		results = append(results, res)
	}
	return results, nil
}

func findTables(input, outDir string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, eris.Wrapf(err, "convert: stat %s", input)
	}
	if !info.IsDir() {
		if !Supported(input) {
			return nil, eris.Errorf("convert: unsupported file type %q", filepath.Ext(input))
		}
		return []string{input}, nil
	}

	skip, _ := filepath.Abs(outDir)
	var tables []string
	err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); abs == skip {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(path) {
			tables = append(tables, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "convert: walk %s", input)
	}
	if len(tables) == 0 {
		return nil, eris.Wrapf(ErrNoTables, "convert: %s", input)
	}
	return tables, nil
}

// outputNames picks a distinct output file name for every table.
func outputNames(input string, tables []string) map[string]string {
	base := func(path string) string {
		rel, err := filepath.Rel(input, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(path)
		}
		rel = strings.TrimSuffix(rel, filepath.Ext(rel))
		return strings.Join(strings.Split(filepath.ToSlash(rel), "/"), "__")
	}

	count := make(map[string]int, len(tables))
	for _, path := range tables {
		count[base(path)]++
	}
	names := make(map[string]string, len(tables))
	for _, path := range tables {
		name := base(path)
		if count[name] > 1 {
			name += "_" + strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		}
		names[path] = name + ".jsonl"
	}
	return names
}

func convertTable(ctx context.Context, path, name, outDir string, opts Options) (res Result, err error) {
	res = Result{
		Source:        path,
		WithImages:    filepath.Join(outDir, WithImagesDir, name),
		WithoutImages: filepath.Join(outDir, WithoutImagesDir, name),
	}

	withW, err := newLineWriter(res.WithImages)
	if err != nil {
		return res, err
	}
	withoutW, err := newLineWriter(res.WithoutImages)
	if err != nil {
		withW.abort()
		return res, err
	}
	defer func() {
		if err != nil {
			withW.abort()
			withoutW.abort()
			return
		}
		if err = withW.close(); err != nil {
			withoutW.abort()
			return
		}
		err = withoutW.close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := StreamRows(ctx, path, opts.ReadOptions)
	var cols []column
	imageCol := -1
	baseDir := filepath.Dir(path)
	rowNum := 0
	for row := range rowCh {
		rowNum++
		if cols == nil {
			cols = header(row, opts)
			imageCol = imageIndex(cols)
			continue
		}
		if blank(row) {
			continue
		}
		if imageCol >= 0 && (imageCol >= len(row) || strings.TrimSpace(row[imageCol]) == "") {
			zap.L().Warn("convert: skipping row without image",
				zap.String("file", path),
				zap.Int("row", rowNum),
			)
			res.Skipped++
			continue
		}
		with, without, encErr := encodeRow(cols, row, baseDir)
		if encErr != nil {
			return res, eris.Wrapf(encErr, "convert: %s row %d", path, rowNum)
		}
		if err := withW.line(with); err != nil {
			return res, err
		}
		if err := withoutW.line(without); err != nil {
			return res, err
		}
		res.Rows++
	}
	if err := <-errCh; err != nil {
		return res, eris.Wrapf(err, "convert: read %s", path)
	}
	if cols == nil {
		return res, eris.Errorf("convert: %s has no header row", path)
	}
	return res, nil
}

type column struct {
	key   string
	image bool
}

// header maps the first row to output keys. The configured image and text
// columns are renamed to the canonical dataset keys; blank names become
// column_<n> and repeats get a numeric suffix.
func header(row []string, opts Options) []column {
	cols := make([]column, len(row))
	seen := make(map[string]int, len(row))
	for i, name := range row {
		name = strings.TrimSpace(name)
		switch {
		case strings.EqualFold(name, opts.ImageColumn):
			name = imageKey
		case strings.EqualFold(name, opts.TextColumn):
			name = textKey
		case name == "":
			name = "column_" + strconv.Itoa(i)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = name + "_" + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}
		cols[i] = column{key: name, image: name == imageKey}
	}
	return cols
}

func imageIndex(cols []column) int {
	for i, c := range cols {
		if c.image {
			return i
		}
	}
	return -1
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// encodeRow renders one row as two JSON objects, with and without the image
// column, keeping header order. Missing trailing cells are null.
func encodeRow(cols []column, row []string, baseDir string) ([]byte, []byte, error) {
	var with, without bytes.Buffer
	with.WriteByte('{')
	without.WriteByte('{')
	for i, col := range cols {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}

		var val []byte
		if col.image {
			img, err := imageValue(cell, baseDir)
			if err != nil {
				return nil, nil, err
			}
			val = img
		} else {
			val = cellValue(cell)
		}

		key, _ := json.Marshal(col.key)
		if i > 0 {
			with.WriteByte(',')
		}
		with.Write(key)
		with.WriteByte(':')
		with.Write(val)

		if col.image {
			continue
		}
		if without.Len() > 1 {
			without.WriteByte(',')
		}
		without.Write(key)
		without.WriteByte(':')
		without.Write(val)
	}
	with.WriteByte('}')
	without.WriteByte('}')
	return with.Bytes(), without.Bytes(), nil
}

// cellValue encodes numeric-looking cells as JSON numbers, empty cells as
// null and everything else as strings.
func cellValue(cell string) []byte {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return []byte("null")
	}
	if isNumber(trimmed) {
		return []byte(trimmed)
	}
	b, _ := json.Marshal(cell)
	return b
}

// isNumber reports whether s is a JSON number literal. Leading zeros are
// rejected so identifiers like "007" stay strings.
func isNumber(s string) bool {
	c := s[0]
	if c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid([]byte(s))
}

// imageValue resolves an image cell. A cell naming an existing file is read
// and base64-encoded; anything else is taken to be base64 data already.
func imageValue(cell, baseDir string) ([]byte, error) {
	ref := strings.TrimSpace(cell)
	if ref == "" {
		return []byte("null"), nil
	}
	if !strings.HasPrefix(ref, "data:") && len(ref) < 4096 {
		path := ref
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, eris.Wrapf(err, "read image %s", path)
			}
			return json.Marshal(base64.StdEncoding.EncodeToString(data))
		}
	}
	return json.Marshal(ref)
}

type lineWriter struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "convert: create %s", path)
	}
	return &lineWriter{path: path, f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (l *lineWriter) line(b []byte) error {
	if _, err := l.w.Write(b); err != nil {
		return eris.Wrapf(err, "convert: write %s", l.path)
	}
	return eris.Wrapf(l.w.WriteByte('\n'), "convert: write %s", l.path)
}

func (l *lineWriter) close() error {
	if err := l.w.Flush(); err != nil {
		l.abort()
		return eris.Wrapf(err, "convert: flush %s", l.path)
	}
	return eris.Wrapf(l.f.Close(), "convert: close %s", l.path)
}

// abort closes and removes a partial output.
func (l *lineWriter) abort() {
	_ = l.f.Close()
	_ = os.Remove(l.path)
}
