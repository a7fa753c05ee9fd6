// Package toc resolves the complete, ordered chapter list of a novel from
// its first table of contents page, following AJAX pagination when the site
// needs it.
package toc

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pevans/novelfetch/extract"
	"github.com/pevans/novelfetch/fetch"
	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/site"
)

// Accept and content type headers sent with every AJAX request.
const (
	ajaxAccept      = "application/json, text/javascript, */*; q=0.01"
	ajaxContentType = "application/x-www-form-urlencoded; charset=UTF-8"
)

// MaxChapters is the largest ordinal a table of contents may assign.
// Chapter files carry four-digit ordinals, so anything larger would sort out
// of order.
const MaxChapters = 9999

// ChapterRef is one chapter of the table of contents. Ordinals start at 1
// and follow discovery order.
type ChapterRef struct {
	Ordinal int    `json:"ordinal"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// Mode tells how the number of AJAX pages was determined.
type Mode int

const (
	// NoPagination means only the first page was used.
	NoPagination Mode = iota
	// Static means the page count was read from a pagination selector.
	Static
	// Dynamic means no selector existed and a configured cap is used.
	Dynamic
)

func (m Mode) String() string {
	switch m {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return "none"
	}
}

// PaginationState tracks one pagination walk.
type PaginationState struct {
	NovelID     string
	CurrentPage int
	TotalPages  int
	Mode        Mode
}

// Result is a resolved table of contents.
type Result struct {
	Title    string
	Chapters []ChapterRef
	State    PaginationState
	// Requests counts AJAX requests issued.
	Requests int
	// EmptyPages lists static-mode pages that failed or added no chapters.
	EmptyPages []int
	// Duplicates counts entries dropped by URL deduplication.
	Duplicates int
	// Overflow counts entries dropped past MaxChapters.
	Overflow int
}

// Fetcher performs HTTP requests. *fetch.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, r fetch.Request) (*fetch.Response, error)
}

// Options configures a Paginator.
type Options struct {
	Extractor  *extract.Extractor
	Pagination site.PaginationConfig
	// NovelID extracts the novel id from the novel URL with its first
	// capture group. Nil disables pagination.
	NovelID *regexp.Regexp
	BaseURL string
	// Throttle spaces AJAX requests. Nil uses Pagination.PageDelay.
	Throttle *fetch.Throttle
	Logger   logger.Logger
}

// Paginator walks AJAX pagination of a table of contents.
type Paginator struct {
	fetcher  Fetcher
	opts     Options
	throttle *fetch.Throttle
	log      logger.Logger
}

// NewPaginator creates a paginator.
func NewPaginator(fetcher Fetcher, opts Options) *Paginator {
	throttle := opts.Throttle
	if throttle == nil {
		throttle = fetch.NewThrottle(opts.Pagination.PageDelay())
	}
	return &Paginator{
		fetcher:  fetcher,
		opts:     opts,
		throttle: throttle,
		log:      logger.OrNop(opts.Logger),
	}
}

// walk accumulates chapters across pages.
type walk struct {
	res    *Result
	seen   map[string]bool
	dedupe bool
}

// add appends entries with the next ordinals and returns how many were
// new. Entries past MaxChapters are counted in Overflow and dropped.
func (w *walk) add(entries []extract.Entry) int {
	added := 0
	for _, e := range entries {
		if len(w.res.Chapters) >= MaxChapters {
			w.res.Overflow++
			continue
		}
		if w.dedupe {
			if w.seen[e.URL] {
				w.res.Duplicates++
				continue
			}
			w.seen[e.URL] = true
		}
		w.res.Chapters = append(w.res.Chapters, ChapterRef{
			Ordinal: len(w.res.Chapters) + 1,
			Title:   e.Title,
			URL:     e.URL,
		})
		added++
	}
	return added
}

// Resolve returns the novel title and every chapter reachable from the first
// TOC page. Per-page failures never fail the call: in static mode they are
// logged and recorded in EmptyPages, in dynamic mode they end the walk. The
// only errors are an unparsable first page and context cancellation.
func (p *Paginator) Resolve(ctx context.Context, firstPageHTML, novelURL string) (*Result, error) {
	doc, err := extract.Parse(firstPageHTML)
	if err != nil {
		return nil, err
	}

	res := &Result{Title: p.opts.Extractor.NovelTitle(doc)}
	w := &walk{res: res, seen: make(map[string]bool), dedupe: p.opts.Pagination.DedupeURLs}
	first := w.add(p.opts.Extractor.ChapterEntries(doc, novelURL))
	p.log.Info("parsed first TOC page", "chapters", first)

	pg := p.opts.Pagination
	if pg.AjaxURL == "" || p.opts.NovelID == nil {
		return res, nil
	}

	m := p.opts.NovelID.FindStringSubmatch(novelURL)
	if len(m) < 2 || m[1] == "" {
		p.log.Warn("could not extract novel id, skipping pagination", "url", novelURL, "pattern", p.opts.NovelID.String())
		return res, nil
	}
	res.State.NovelID = m[1]

	method := strings.ToUpper(pg.AjaxMethod)
	if method == "" {
		method = site.DefaultAjaxMethod
	}
	if method != "GET" && method != "POST" {
		p.log.Error("unsupported AJAX method, skipping pagination", "method", pg.AjaxMethod)
		return res, nil
	}

	if n := extract.Count(doc, orDefault(pg.SelectSelector, site.DefaultSelectSelector), orDefault(pg.OptionSelector, site.DefaultOptionSelector)); n >= 0 {
		res.State.Mode = Static
		res.State.TotalPages = n
		if n == 0 {
			p.log.Warn("pagination selector has no options, assuming a single page")
			res.State.TotalPages = 1
		}
	} else {
		res.State.Mode = Dynamic
		res.State.TotalPages = pg.MaxAjaxPages
		if res.State.TotalPages <= 0 {
			res.State.TotalPages = site.DefaultMaxAjaxPages
		}
	}
	p.log.Info("paginating TOC", "novel_id", res.State.NovelID, "mode", res.State.Mode, "pages", res.State.TotalPages)

	ajaxURL := extract.Resolve(orDefault(p.opts.BaseURL, novelURL), pg.AjaxURL)
	headers := p.ajaxHeaders(novelURL)

	for page := 2; page <= res.State.TotalPages; page++ {
		if res.Overflow > 0 {
			break
		}
		res.State.CurrentPage = page

		if err := p.throttle.Wait(ctx); err != nil {
			return res, err
		}

		added, err := p.fetchPage(ctx, w, fetch.Request{
			Method:  method,
			URL:     ajaxURL,
			Params:  url.Values{"id": {res.State.NovelID}, "page": {strconv.Itoa(page)}},
			Headers: headers,
			Cookies: pg.Cookies,
		}, novelURL)
		res.Requests++

		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		if err != nil || added == 0 {
			if res.State.Mode == Dynamic {
				p.log.Info("stopping pagination", "page", page, "err", err)
				break
			}
			p.log.Warn("TOC page added no chapters", "page", page, "err", err)
			res.EmptyPages = append(res.EmptyPages, page)
			continue
		}
		p.log.Info("parsed TOC page", "page", page, "chapters", added)
	}

	if res.Duplicates > 0 {
		p.log.Info("dropped repeated chapter URLs", "count", res.Duplicates)
	}
	warnOverflow(p.log, res)
	return res, nil
}

func warnOverflow(log logger.Logger, res *Result) {
	if res.Overflow > 0 {
		log.Warn("too many chapters, ignoring the rest", "max", MaxChapters, "ignored", res.Overflow)
	}
}

// fetchPage requests one AJAX page and adds its chapters.
func (p *Paginator) fetchPage(ctx context.Context, w *walk, req fetch.Request, novelURL string) (int, error) {
	resp, err := p.fetcher.Do(ctx, req)
	if err != nil {
		return 0, err
	}

	payload, err := DecodePayload(resp, p.opts.Pagination.JSONHTMLKey)
	if err != nil {
		return 0, err
	}

	base := orDefault(p.opts.BaseURL, novelURL)
	switch payload.Kind {
	case Entries:
		if payload.Skipped > 0 {
			p.log.Warn("skipped malformed chapter items", "count", payload.Skipped)
		}
		entries := make([]extract.Entry, len(payload.Entries))
		for i, e := range payload.Entries {
			entries[i] = extract.Entry{Title: e.Title, URL: extract.Resolve(base, e.URL)}
		}
		return w.add(entries), nil
	case HTMLFragment:
		doc, err := extract.Parse(payload.HTML)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return w.add(p.opts.Extractor.ChapterEntries(doc, novelURL)), nil
	default:
		return 0, ErrUnrecognized
	}
}

// ajaxHeaders builds the headers sent with AJAX requests. The site headers
// are sent by the client already.
func (p *Paginator) ajaxHeaders(novelURL string) map[string]string {
	origin := strings.TrimRight(p.opts.BaseURL, "/")
	if origin == "" {
		if u, err := url.Parse(novelURL); err == nil && u.Host != "" {
			origin = u.Scheme + "://" + u.Host
		}
	}

	headers := map[string]string{
		"Accept":           ajaxAccept,
		"Content-Type":     ajaxContentType,
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          novelURL,
	}
	if origin != "" {
		headers["Origin"] = origin
	}
	return headers
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
