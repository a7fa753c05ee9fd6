// Package harvest runs a complete novel download: it resolves the table of
// contents, fetches every selected chapter page (through the page cache when
// one is configured) and segments the pages into ordered chapter files.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/pevans/novelfetch/fetch"
	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/segment"
	"github.com/pevans/novelfetch/site"
	"github.com/pevans/novelfetch/title"
	"github.com/pevans/novelfetch/toc"
	"github.com/pevans/novelfetch/writer"
)

// ErrNoChapters is returned when the table of contents yields no chapters.
var ErrNoChapters = errors.New("no chapters found")

// UntitledNovel names the novel directory when nothing better is known.
const UntitledNovel = "untitled_novel"

// PageCache stores raw chapter pages. *cache.Store implements it.
type PageCache interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, payload []byte, ttl time.Duration) error
}

// ChapterError records why one chapter failed. The run continues past it.
type ChapterError struct {
	Ordinal int
	Title   string
	URL     string
	Err     error
}

func (e *ChapterError) Error() string {
	return fmt.Sprintf("chapter %d %q (%s): %v", e.Ordinal, e.Title, e.URL, e.Err)
}

func (e *ChapterError) Unwrap() error {
	return e.Err
}

// Options configures a Harvester.
type Options struct {
	Site    *site.Config
	Fetcher toc.Fetcher
	// Registry resolves the site type. Nil uses NewRegistry.
	Registry *Registry
	// Cache is optional.
	Cache    PageCache
	Fs       afero.Fs
	Logger   logger.Logger
	Throttle *fetch.Throttle // spaces chapter fetches; nil uses the site delay
}

// Harvester downloads novels from one site.
type Harvester struct {
	site     *site.Config
	fetcher  toc.Fetcher
	strategy Strategy
	cache    PageCache
	fs       afero.Fs
	throttle *fetch.Throttle
	log      logger.Logger
}

// New compiles the site patterns and builds the strategy for its site type.
// Invalid patterns are logged and disable only the feature that uses them.
func New(opts Options) (*Harvester, error) {
	log := logger.OrNop(opts.Logger)

	patterns, warnings := opts.Site.Compile()
	for _, w := range warnings {
		log.Warn("disabling feature with invalid pattern", "field", w.Field, "pattern", w.Pattern, "err", w.Err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	strategy, err := registry.Build(opts.Site, Deps{Fetcher: opts.Fetcher, Patterns: patterns, Logger: log})
	if err != nil {
		return nil, err
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	throttle := opts.Throttle
	if throttle == nil {
		throttle = fetch.NewThrottle(opts.Site.ChapterDelay())
	}

	return &Harvester{
		site:     opts.Site,
		fetcher:  opts.Fetcher,
		strategy: strategy,
		cache:    opts.Cache,
		fs:       fs,
		throttle: throttle,
		log:      log,
	}, nil
}

// Result summarises a download run.
type Result struct {
	RunID      string
	NovelTitle string
	// Dir is the novel directory holding the chapter files.
	Dir       string
	TOC       *toc.Result
	Total     int
	Selected  int
	Succeeded int
	Failed    int
	Files     []string
	Errors    []*ChapterError
}

// ListChapters resolves the table of contents without downloading anything.
func (h *Harvester) ListChapters(ctx context.Context, novelURL string) (*toc.Result, error) {
	return h.resolve(ctx, novelURL, h.log)
}

func (h *Harvester) resolve(ctx context.Context, novelURL string, log logger.Logger) (*toc.Result, error) {
	tocURL := h.strategy.TOCURL(novelURL)
	resp, err := h.fetcher.Do(ctx, fetch.Request{Method: http.MethodGet, URL: tocURL})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch table of contents: %w", err)
	}

	res, err := h.strategy.ResolveTOC(ctx, resp.Text(), novelURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table of contents: %w", err)
	}
	if len(res.Chapters) == 0 {
		return nil, fmt.Errorf("%s: %w", tocURL, ErrNoChapters)
	}

	if len(res.EmptyPages) > 0 {
		log.Warn("TOC pages contributed no chapters", "pages", res.EmptyPages)
	}
	log.Info("resolved table of contents", "title", res.Title, "chapters", len(res.Chapters), "mode", res.State.Mode)
	return res, nil
}

// Download harvests the chapters of novelURL into a novel directory under
// outputDir. selection lists 1-based ordinals to fetch; empty means all.
// Per-chapter failures are collected in Result.Errors. Only a failed TOC
// resolution or cancellation returns an error.
func (h *Harvester) Download(ctx context.Context, novelURL, outputDir string, selection []int) (*Result, error) {
	runID := uuid.NewString()
	log := logger.With(h.log, "run", runID[:8])
	log.Info("starting download", "url", novelURL, "site", h.site.SiteName)

	tocRes, err := h.resolve(ctx, novelURL, log)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID: runID,
		TOC:   tocRes,
		Total: len(tocRes.Chapters),
	}
	res.NovelTitle, res.Dir = h.novelDir(tocRes.Title, novelURL, outputDir)
	log.Info("saving novel", "dir", res.Dir)

	chapters := selectChapters(tocRes.Chapters, selection)
	if len(selection) > 0 && len(chapters) == 0 {
		log.Warn("no selected chapter exists", "selection", selection, "total", res.Total)
	}
	res.Selected = len(chapters)

	w := writer.New(h.fs, res.Dir)
	carry := segment.CarryState{}
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log.Info("processing chapter", "n", fmt.Sprintf("%d/%d", i+1, len(chapters)), "ordinal", ch.Ordinal, "title", ch.Title)

		segRes, err := h.chapter(ctx, ch, carry, w)
		carry = segRes.Carry
		res.Files = append(res.Files, segRes.Paths...)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			chErr := &ChapterError{Ordinal: ch.Ordinal, Title: ch.Title, URL: ch.URL, Err: err}
			log.Error("chapter failed", "ordinal", ch.Ordinal, "err", err)
			res.Errors = append(res.Errors, chErr)
			res.Failed++
			continue
		}
		res.Succeeded++
	}

	log.Info("download finished", "succeeded", res.Succeeded, "failed", res.Failed, "selected", res.Selected, "total", res.Total)
	return res, nil
}

// chapter fetches and segments one chapter page.
func (h *Harvester) chapter(ctx context.Context, ch toc.ChapterRef, carry segment.CarryState, sink segment.Sink) (segment.Result, error) {
	page, err := h.page(ctx, ch.URL)
	if err != nil {
		return segment.Result{Carry: carry}, err
	}
	return h.strategy.SegmentChapter(ch.Ordinal, page, ch.Title, carry, sink)
}

// page returns a chapter page from the cache or the network. Pages are
// cached as fetched, before extraction.
func (h *Harvester) page(ctx context.Context, pageURL string) (string, error) {
	if h.cache != nil {
		payload, ok, err := h.cache.Get(pageURL)
		if err != nil {
			h.log.Warn("cache read failed", "url", pageURL, "err", err)
		} else if ok {
			h.log.Debug("loaded page from cache", "url", pageURL)
			return string(payload), nil
		}
	}

	if err := h.throttle.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := h.fetcher.Do(ctx, fetch.Request{Method: http.MethodGet, URL: pageURL})
	if err != nil {
		return "", err
	}

	if h.cache != nil {
		if err := h.cache.Set(pageURL, resp.Body, 0); err != nil {
			h.log.Warn("cache write failed", "url", pageURL, "err", err)
		}
	}
	return resp.Text(), nil
}

// novelDir picks the directory name for a novel: its title, else the last
// URL path segment, else the site name.
func (h *Harvester) novelDir(novelTitle, novelURL, outputDir string) (string, string) {
	display := title.CollapseSpace(novelTitle)
	name := title.Sanitize(display)

	if name == "" {
		name = title.Sanitize(lastSegment(novelURL))
		display = name
	}
	if name == "" {
		name = title.Sanitize(h.site.SiteName)
		display = name
	}
	if name == "" {
		name = UntitledNovel
		display = name
	}
	return display, filepath.Join(outputDir, name)
}

// lastSegment returns the final path segment of a URL without an .html or
// .htm extension.
func lastSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	seg := path.Base(strings.TrimRight(p, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	if ext := path.Ext(seg); ext == ".html" || ext == ".htm" {
		seg = strings.TrimSuffix(seg, ext)
	}
	return seg
}

func selectChapters(chapters []toc.ChapterRef, selection []int) []toc.ChapterRef {
	if len(selection) == 0 {
		return chapters
	}
	want := make(map[int]bool, len(selection))
	for _, n := range selection {
		want[n] = true
	}

	var out []toc.ChapterRef
	for _, ch := range chapters {
		if want[ch.Ordinal] {
			out = append(out, ch)
		}
	}
	return out
}
