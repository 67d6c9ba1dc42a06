package source

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docscan-cli/internal/model"
)

var (
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	pngBytes  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestSniffMIME(t *testing.T) {
	t.Parallel()
	assert.Equal(t, model.MIMEJPEG, SniffMIME(jpegBytes))
	assert.Equal(t, model.MIMEPNG, SniffMIME(pngBytes))
	assert.Equal(t, model.MIMEJPEG, SniffMIME([]byte("GIF89a")))
	assert.Equal(t, model.MIMEJPEG, SniffMIME(nil))
}

func TestDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b_passport.JPG", jpegBytes)
	writeFile(t, dir, "a_id.png", pngBytes)
	writeFile(t, dir, "c_scan.jpeg", []byte("not really an image"))
	writeFile(t, dir, "notes.txt", []byte("skip"))
	writeFile(t, dir, "d.gif", []byte("GIF89a"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub"), "deep.jpg", jpegBytes)

	docs, err := Directory(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "a_id", docs[0].ID)
	assert.Equal(t, model.MIMEPNG, docs[0].Image.MIME)
	assert.Equal(t, "a_id.png", docs[0].Source)
	assert.Equal(t, pngBytes, docs[0].Image.Data)

	assert.Equal(t, "b_passport", docs[1].ID)
	assert.Equal(t, model.MIMEJPEG, docs[1].Image.MIME)

	assert.Equal(t, "c_scan", docs[2].ID)
	assert.Equal(t, model.MIMEJPEG, docs[2].Image.MIME)

	for _, d := range docs {
		assert.Equal(t, model.NotAvailable, d.ReferenceText)
		assert.Nil(t, d.Input)
	}
}

func TestDirectory_Empty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", []byte("#"))

	_, err := Directory(dir)
	assert.ErrorIs(t, err, ErrNoDocuments)

	_, err = Directory(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDataset(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jpeg := base64.StdEncoding.EncodeToString(jpegBytes)
	png := base64.StdEncoding.EncodeToString(pngBytes)
	// "e" followed by a combining acute accent normalizes to a single rune.
	decomposed := "Jose\u0301"

	lines := []string{
		`{"image":"` + jpeg + `","text":"JOHN DOE","source":"batch-1"}`,
		``,
		`{"id":"passport-7","image":"` + png + `"}`,
		`{"id":42,"image":"data:image/jpeg;base64,` + jpeg + `","text":"` + decomposed + `"}`,
		`{"image":"` + strings.TrimRight(jpeg, "=") + `","text":"  "}`,
	}
	path := filepath.Join(dir, "data.jsonl")
	writeFile(t, dir, "data.jsonl", []byte(strings.Join(lines, "\n")+"\n"))

	docs, err := Dataset(path)
	require.NoError(t, err)
	require.Len(t, docs, 4)

	assert.Equal(t, "0", docs[0].ID)
	assert.Equal(t, "JOHN DOE", docs[0].ReferenceText)
	assert.Equal(t, jpegBytes, docs[0].Image.Data)
	assert.Equal(t, model.MIMEJPEG, docs[0].Image.MIME)
	assert.Equal(t, "batch-1", docs[0].Input["source"])
	assert.NotContains(t, docs[0].Input, "image")
	assert.Empty(t, docs[0].Source)

	assert.Equal(t, "passport-7", docs[1].ID)
	assert.Equal(t, model.NotAvailable, docs[1].ReferenceText)
	assert.Equal(t, model.MIMEPNG, docs[1].Image.MIME)

	assert.Equal(t, "42", docs[2].ID)
	assert.Equal(t, "Jos\u00e9", docs[2].ReferenceText)
	assert.Equal(t, jpegBytes, docs[2].Image.Data)

	assert.Equal(t, "3", docs[3].ID)
	assert.Equal(t, model.NotAvailable, docs[3].ReferenceText)
	assert.Equal(t, jpegBytes, docs[3].Image.Data)
}

func TestDataset_InvalidLinesFailAlone(t *testing.T) {
	t.Parallel()
	good := `{"image":"` + base64.StdEncoding.EncodeToString(jpegBytes) + `"}`
	tests := []struct {
		name   string
		line   string
		wantID string
		want   string
	}{
		{"missing image", `{"id":"jane","text":"JANE"}`, "jane", `missing "image"`},
		{"null image", `{"image":null,"text":"JANE"}`, "1", `missing "image"`},
		{"bad base64", `{"image":"!!!not base64!!!"}`, "1", `invalid base64`},
		{"not json", `image=abc`, "1", "invalid JSON"},
		{"image not string", `{"image":123}`, "1", `missing "image"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFile(t, dir, "in.jsonl", []byte(good+"\n"+tt.line+"\n"+good+"\n"))

			docs, err := Dataset(filepath.Join(dir, "in.jsonl"))
			require.NoError(t, err)
			require.Len(t, docs, 3)

			assert.NoError(t, docs[0].Invalid)
			assert.NoError(t, docs[2].Invalid)
			assert.Equal(t, "2", docs[2].ID)

			bad := docs[1]
			assert.Equal(t, tt.wantID, bad.ID)
			require.Error(t, bad.Invalid)
			assert.Contains(t, bad.Invalid.Error(), tt.want)
			assert.Contains(t, bad.Invalid.Error(), "line 2")
			assert.Empty(t, bad.Image.Data)
		})
	}
}

func TestDataset_DuplicateIDs(t *testing.T) {
	t.Parallel()
	img := base64.StdEncoding.EncodeToString(jpegBytes)
	dir := t.TempDir()
	// The second line has no id and is numbered "1", clashing with line 1.
	writeFile(t, dir, "in.jsonl", []byte(strings.Join([]string{
		`{"id":"1","image":"` + img + `"}`,
		`{"image":"` + img + `"}`,
	}, "\n")))

	_, err := Dataset(filepath.Join(dir, "in.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate id "1" on lines 1 and 2`)
}

func TestDataset_Empty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "in.jsonl", []byte("\n\n"))
	_, err := Dataset(filepath.Join(dir, "in.jsonl"))
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "x.jpg", jpegBytes)
	docs, err := Open(dir)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	data := t.TempDir()
	writeFile(t, data, "d.jsonl", []byte(`{"image":"`+base64.StdEncoding.EncodeToString(jpegBytes)+`"}`))
	docs, err = Open(filepath.Join(data, "d.jsonl"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = Open(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
