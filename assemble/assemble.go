// Package assemble merges the chapter files of a novel directory into a
// single text file and an EPUB book.
package assemble

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmaupin/go-epub"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/title"
	"github.com/pevans/novelfetch/writer"
)

// Format is an output container format.
type Format string

const (
	Text Format = "txt"
	EPUB Format = "epub"
)

// DefaultLang is the EPUB language when none is configured.
const DefaultLang = "zh-CN"

const bookCSS = `body { font-family: SimSun, serif; padding: 5%; }
h1 { text-align: center; padding: 10px; }
`

// ParseFormats parses a comma separated format list. "none" or an empty
// string selects nothing.
func ParseFormats(s string) ([]Format, error) {
	var formats []Format
	seen := make(map[Format]bool)

	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case "", "none":
			continue
		case Text, EPUB:
			if !seen[f] {
				seen[f] = true
				formats = append(formats, f)
			}
		default:
			return nil, fmt.Errorf("unknown output format %q", part)
		}
	}
	return formats, nil
}

// Chapter is one chapter file split into its title line and body.
type Chapter struct {
	Title string
	Body  string
	Raw   string
}

// Options configures assembly.
type Options struct {
	Formats []Format
	Lang    string
	Logger  logger.Logger
}

// Assembler writes merged books next to the chapter files.
type Assembler struct {
	fs   afero.Fs
	opts Options
	log  logger.Logger
}

// New creates an assembler.
func New(fs afero.Fs, opts Options) *Assembler {
	if opts.Lang == "" {
		opts.Lang = DefaultLang
	}
	return &Assembler{fs: fs, opts: opts, log: logger.OrNop(opts.Logger)}
}

// Assemble merges the chapter files in dir into one file per configured
// format, named after novelTitle, and returns the written paths.
func (a *Assembler) Assemble(dir, novelTitle string) ([]string, error) {
	if len(a.opts.Formats) == 0 {
		return nil, nil
	}

	chapters, err := a.load(dir)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("no chapter files in %s", dir)
	}

	name := title.Sanitize(novelTitle)
	if name == "" {
		name = filepath.Base(dir)
	}

	var paths []string
	for _, f := range a.opts.Formats {
		path := filepath.Join(dir, name+"."+string(f))

		switch f {
		case Text:
			err = a.writeText(path, novelTitle, chapters)
		case EPUB:
			err = a.writeEPUB(path, novelTitle, chapters)
		}
		if err != nil {
			return paths, err
		}

		a.log.Info("assembled book", "format", f, "path", path, "chapters", len(chapters))
		paths = append(paths, path)
	}
	return paths, nil
}

// load reads the chapter files of dir in order.
func (a *Assembler) load(dir string) ([]Chapter, error) {
	files, err := writer.New(a.fs, dir).Files()
	if err != nil {
		return nil, err
	}

	chapters := make([]Chapter, 0, len(files))
	for _, path := range files {
		data, err := afero.ReadFile(a.fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		chapters = append(chapters, ParseChapter(string(data)))
	}
	return chapters, nil
}

// ParseChapter splits a chapter file into its first line and the rest.
func ParseChapter(content string) Chapter {
	trimmed := strings.TrimSpace(content)
	head, body, _ := strings.Cut(trimmed, "\n")
	return Chapter{
		Title: strings.TrimSpace(head),
		Body:  strings.TrimSpace(body),
		Raw:   content,
	}
}

func (a *Assembler) writeText(path, novelTitle string, chapters []Chapter) error {
	var b strings.Builder
	b.WriteString(novelTitle + "\n\n")
	for _, ch := range chapters {
		b.WriteString(ch.Raw + "\n\n")
	}

	if err := afero.WriteFile(a.fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// writeEPUB builds the book in a scratch directory on disk, since the epub
// library only writes to local paths, and copies the result into the
// assembler's filesystem.
func (a *Assembler) writeEPUB(path, novelTitle string, chapters []Chapter) error {
	scratch, err := os.MkdirTemp("", "novelfetch-epub-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	book := epub.NewEpub(novelTitle)
	book.SetLang(a.opts.Lang)
	book.SetIdentifier("urn:uuid:" + uuid.NewString())

	cssFile := filepath.Join(scratch, "book.css")
	if err := os.WriteFile(cssFile, []byte(bookCSS), 0o644); err != nil {
		return fmt.Errorf("failed to write stylesheet: %w", err)
	}
	css, err := book.AddCSS(cssFile, "book.css")
	if err != nil {
		return fmt.Errorf("failed to add stylesheet: %w", err)
	}

	for i, ch := range chapters {
		filename := fmt.Sprintf("chapter_%04d.xhtml", i+1)
		if _, err := book.AddSection(sectionBody(ch), ch.Title, filename, css); err != nil {
			return fmt.Errorf("failed to add chapter %q: %w", ch.Title, err)
		}
	}

	out := filepath.Join(scratch, "book.epub")
	if err := book.Write(out); err != nil {
		return fmt.Errorf("failed to build epub: %w", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return fmt.Errorf("failed to read epub: %w", err)
	}
	if err := afero.WriteFile(a.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// sectionBody renders a chapter as XHTML: a heading and one paragraph per
// blank-line separated block.
func sectionBody(ch Chapter) string {
	var b strings.Builder
	b.WriteString("<h1>" + html.EscapeString(ch.Title) + "</h1>\n")
	for _, para := range strings.Split(ch.Body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(line))
		}
		b.WriteString("<p>" + strings.Join(lines, "<br/>") + "</p>\n")
	}
	return b.String()
}
