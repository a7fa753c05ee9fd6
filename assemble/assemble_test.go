package assemble

import (
	"archive/zip"
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func novelDir(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"0001_ics_001_Dawn.txt": "Dawn\n\nWe left.\n\nAt first light.",
		"0001_ics_002_Noon.txt": "Noon\n\nWe walked & talked.",
		"0002_Arrival.txt":      "Arrival\n\n<We arrived>",
		"notes.md":              "ignored",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("/out/Road", name), []byte(content), 0o644))
	}
	return fs
}

// TestParseFormats verifies format lists
func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats("txt, EPUB,txt")
	require.NoError(t, err)
	assert.Equal(t, []Format{Text, EPUB}, formats)

	formats, err = ParseFormats("none")
	require.NoError(t, err)
	assert.Empty(t, formats)

	_, err = ParseFormats("txt,pdf")
	assert.Error(t, err)
}

// TestParseChapter verifies title and body separation
func TestParseChapter(t *testing.T) {
	ch := ParseChapter("Title\n\nline one\nline two\n")

	assert.Equal(t, "Title", ch.Title)
	assert.Equal(t, "line one\nline two", ch.Body)
	assert.Equal(t, "Title\n\nline one\nline two\n", ch.Raw)
}

// TestAssemble_Text verifies the merged text file
func TestAssemble_Text(t *testing.T) {
	fs := novelDir(t)
	a := New(fs, Options{Formats: []Format{Text}})

	paths, err := a.Assemble("/out/Road", "The Road")
	require.NoError(t, err)

	require.Equal(t, []string{filepath.Join("/out/Road", "The_Road.txt")}, paths)
	data, err := afero.ReadFile(fs, paths[0])
	require.NoError(t, err)
	assert.Equal(t, "The Road\n\n"+
		"Dawn\n\nWe left.\n\nAt first light.\n\n"+
		"Noon\n\nWe walked & talked.\n\n"+
		"Arrival\n\n<We arrived>\n\n", string(data))

	again, err := a.Assemble("/out/Road", "The Road")
	require.NoError(t, err)
	data2, err := afero.ReadFile(fs, again[0])
	require.NoError(t, err)
	assert.Equal(t, data, data2, "the merged file is not merged into itself")
}

// TestAssemble_EPUB verifies the book is a zip with one section per chapter
func TestAssemble_EPUB(t *testing.T) {
	fs := novelDir(t)
	a := New(fs, Options{Formats: []Format{EPUB}})

	paths, err := a.Assemble("/out/Road", "The Road")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join("/out/Road", "The_Road.epub"), paths[0])

	data, err := afero.ReadFile(fs, paths[0])
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	sections := map[string]string{}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".xhtml") || !strings.Contains(f.Name, "chapter_") {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		sections[filepath.Base(f.Name)] = string(body)
	}

	require.Len(t, sections, 3)
	assert.Contains(t, sections["chapter_0001.xhtml"], "<h1>Dawn</h1>")
	assert.Contains(t, sections["chapter_0002.xhtml"], "We walked &amp; talked.")
	assert.Contains(t, sections["chapter_0003.xhtml"], "&lt;We arrived&gt;")
}

// TestAssemble_NoFormats verifies nothing is written
func TestAssemble_NoFormats(t *testing.T) {
	fs := novelDir(t)

	paths, err := New(fs, Options{}).Assemble("/out/Road", "The Road")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

// TestAssemble_Empty verifies an empty directory is an error
func TestAssemble_Empty(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out/Empty", 0o755))

	_, err := New(fs, Options{Formats: []Format{Text}}).Assemble("/out/Empty", "Empty")
	assert.Error(t, err)
}

// TestSectionBody verifies paragraph rendering and escaping
func TestSectionBody(t *testing.T) {
	body := sectionBody(Chapter{Title: "A & B", Body: "one\ntwo\n\n\n<three>"})

	assert.Equal(t, "<h1>A &amp; B</h1>\n<p>one<br/>two</p>\n<p>&lt;three&gt;</p>\n", body)
}
