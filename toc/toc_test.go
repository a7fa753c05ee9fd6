package toc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/novelfetch/extract"
	"github.com/pevans/novelfetch/fetch"
	"github.com/pevans/novelfetch/site"
)

// tocPage renders a first TOC page with n chapters and, when options > 0, a
// pagination select with that many options.
func tocPage(n, options int) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1 class="title">Test Novel</h1><ul class="chapter-list">`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<li><a href="/book/42/%d.html">Chapter %d</a></li>`, i, i)
	}
	b.WriteString(`</ul>`)
	if options > 0 {
		b.WriteString(`<select class="select">`)
		for i := 1; i <= options; i++ {
			fmt.Fprintf(&b, `<option value="%d">%d</option>`, i, i)
		}
		b.WriteString(`</select>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// dataPage renders a JSON page with chapters first..first+n-1.
func dataPage(first, n int) string {
	var items []string
	for i := first; i < first+n; i++ {
		items = append(items, fmt.Sprintf(`{"chaptername":"Chapter %d","chapterurl":"/book/42/%d.html"}`, i, i))
	}
	return `{"code":0,"data":[` + strings.Join(items, ",") + `]}`
}

// ajaxServer serves AJAX pages from a map and records requested pages.
type ajaxServer struct {
	*httptest.Server
	mu       sync.Mutex
	pages    []int
	requests []*http.Request
}

type pageResponse struct {
	status      int
	contentType string
	body        string
}

func jsonPage(body string) pageResponse {
	return pageResponse{status: http.StatusOK, contentType: "application/json; charset=utf-8", body: body}
}

func newAJAXServer(t *testing.T, responses map[int]pageResponse) *ajaxServer {
	s := &ajaxServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		page, _ := strconv.Atoi(r.FormValue("page"))

		s.mu.Lock()
		s.pages = append(s.pages, page)
		s.requests = append(s.requests, r)
		s.mu.Unlock()

		resp, ok := responses[page]
		if !ok {
			resp = jsonPage(`{"data":[]}`)
		}
		w.Header().Set("Content-Type", resp.contentType)
		w.WriteHeader(resp.status)
		io.WriteString(w, resp.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ajaxServer) requestedPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pages...)
}

func testExtractor(base string) *extract.Extractor {
	return extract.New(extract.Selectors{
		NovelTitle:  "h1.title",
		ChapterList: "ul.chapter-list li a",
	}, base)
}

func newTestPaginator(t *testing.T, srv *ajaxServer, pg site.PaginationConfig) *Paginator {
	client, err := fetch.NewClient(fetch.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	if pg.AjaxURL == "" {
		pg.AjaxURL = "/ajax/chapters"
	}
	return NewPaginator(client, Options{
		Extractor:  testExtractor(srv.URL),
		Pagination: pg,
		NovelID:    regexp.MustCompile(`/book/(\d+)/`),
		BaseURL:    srv.URL,
	})
}

// TestResolve_FirstPageOnly verifies that without AJAX configuration only
// first-page chapters are returned
func TestResolve_FirstPageOnly(t *testing.T) {
	p := NewPaginator(nil, Options{Extractor: testExtractor("http://example.com")})

	res, err := p.Resolve(context.Background(), tocPage(3, 0), "http://example.com/book/42/")
	require.NoError(t, err)

	assert.Equal(t, "Test Novel", res.Title)
	assert.Equal(t, []ChapterRef{
		{Ordinal: 1, Title: "Chapter 1", URL: "http://example.com/book/42/1.html"},
		{Ordinal: 2, Title: "Chapter 2", URL: "http://example.com/book/42/2.html"},
		{Ordinal: 3, Title: "Chapter 3", URL: "http://example.com/book/42/3.html"},
	}, res.Chapters)
	assert.Equal(t, NoPagination, res.State.Mode)
	assert.Zero(t, res.Requests)
}

// TestResolve_NovelIDMissing verifies pagination is skipped when the id
// pattern does not match
func TestResolve_NovelIDMissing(t *testing.T) {
	srv := newAJAXServer(t, nil)
	p := newTestPaginator(t, srv, site.PaginationConfig{})

	res, err := p.Resolve(context.Background(), tocPage(2, 0), srv.URL+"/novel/abc")
	require.NoError(t, err)

	assert.Len(t, res.Chapters, 2)
	assert.Empty(t, srv.requestedPages())
}

// TestResolve_StaticCompleteness verifies static mode requests every page
// even after empty ones
func TestResolve_StaticCompleteness(t *testing.T) {
	srv := newAJAXServer(t, map[int]pageResponse{
		2: jsonPage(dataPage(4, 3)),
		3: jsonPage(dataPage(7, 3)),
		4: jsonPage(`{"data":[]}`),
		5: jsonPage(`{"data":[]}`),
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{})

	res, err := p.Resolve(context.Background(), tocPage(3, 5), srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4, 5}, srv.requestedPages())
	assert.Equal(t, Static, res.State.Mode)
	assert.Equal(t, 5, res.State.TotalPages)
	assert.Equal(t, "42", res.State.NovelID)
	assert.Equal(t, 4, res.Requests)
	assert.Equal(t, []int{4, 5}, res.EmptyPages)

	require.Len(t, res.Chapters, 9)
	for i, ch := range res.Chapters {
		assert.Equal(t, i+1, ch.Ordinal)
		assert.Equal(t, fmt.Sprintf("Chapter %d", i+1), ch.Title)
		assert.Equal(t, fmt.Sprintf("%s/book/42/%d.html", srv.URL, i+1), ch.URL)
	}
}

// TestResolve_StaticContinuesAfterFailures verifies failed pages are recorded
// and skipped
func TestResolve_StaticContinuesAfterFailures(t *testing.T) {
	srv := newAJAXServer(t, map[int]pageResponse{
		2: {status: http.StatusInternalServerError, contentType: "text/plain", body: "boom"},
		3: jsonPage(`{not json`),
		4: jsonPage(dataPage(2, 1)),
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{})

	res, err := p.Resolve(context.Background(), tocPage(1, 4), srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4}, srv.requestedPages())
	assert.Equal(t, []int{2, 3}, res.EmptyPages)
	assert.Len(t, res.Chapters, 2)
}

// TestResolve_StaticNoOptions verifies an empty select means one page
func TestResolve_StaticNoOptions(t *testing.T) {
	srv := newAJAXServer(t, nil)
	p := newTestPaginator(t, srv, site.PaginationConfig{})
	page := strings.Replace(tocPage(2, 0), "</body>", `<select class="select"></select></body>`, 1)

	res, err := p.Resolve(context.Background(), page, srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Equal(t, Static, res.State.Mode)
	assert.Empty(t, srv.requestedPages())
	assert.Len(t, res.Chapters, 2)
}

// TestResolve_DynamicEarlyStop verifies dynamic mode stops at the first
// empty page
func TestResolve_DynamicEarlyStop(t *testing.T) {
	srv := newAJAXServer(t, map[int]pageResponse{
		2: jsonPage(dataPage(3, 2)),
		3: jsonPage(`{"data":[]}`),
		4: jsonPage(dataPage(5, 2)),
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{MaxAjaxPages: 10})

	res, err := p.Resolve(context.Background(), tocPage(2, 0), srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, srv.requestedPages(), "no request for page 4 or later")
	assert.Equal(t, Dynamic, res.State.Mode)
	assert.Len(t, res.Chapters, 4)
	assert.Empty(t, res.EmptyPages)
}

// TestResolve_DynamicStopsOnFailure verifies transport, decode and
// unrecognized responses each end dynamic pagination
func TestResolve_DynamicStopsOnFailure(t *testing.T) {
	failures := map[string]pageResponse{
		"http error":   {status: http.StatusBadGateway, contentType: "text/html", body: "bad gateway"},
		"invalid json": jsonPage(`{"data":[`),
		"unrecognized": {status: http.StatusOK, contentType: "text/plain", body: "hello"},
		"no known key": jsonPage(`{"html":"<a href='/x'>x</a>"}`),
	}

	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			srv := newAJAXServer(t, map[int]pageResponse{
				2: jsonPage(dataPage(2, 1)),
				3: failure,
				4: jsonPage(dataPage(3, 1)),
			})
			p := newTestPaginator(t, srv, site.PaginationConfig{MaxAjaxPages: 10})

			res, err := p.Resolve(context.Background(), tocPage(1, 0), srv.URL+"/book/42/")
			require.NoError(t, err)

			assert.Equal(t, []int{2, 3}, srv.requestedPages())
			assert.Len(t, res.Chapters, 2)
		})
	}
}

// TestResolve_DynamicCap verifies dynamic mode stops at max_ajax_pages
func TestResolve_DynamicCap(t *testing.T) {
	responses := map[int]pageResponse{}
	for page := 2; page <= 6; page++ {
		responses[page] = jsonPage(dataPage(page, 1))
	}
	srv := newAJAXServer(t, responses)
	p := newTestPaginator(t, srv, site.PaginationConfig{MaxAjaxPages: 4})

	res, err := p.Resolve(context.Background(), tocPage(1, 0), srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4}, srv.requestedPages())
	assert.Len(t, res.Chapters, 4)
}

// TestResolve_HTMLPayloads verifies legacy HTML-in-JSON fields and raw HTML
// responses are parsed with the chapter list selector
func TestResolve_HTMLPayloads(t *testing.T) {
	fragment := `<ul class="chapter-list"><li><a href="/book/42/2.html">Chapter 2</a></li></ul>`
	quoted := strconv.Quote(fragment)

	srv := newAJAXServer(t, map[int]pageResponse{
		2: jsonPage(`{"list":` + quoted + `}`),
		3: jsonPage(`{"info":` + strings.Replace(quoted, "2", "3", -1) + `}`),
		4: jsonPage(`{"chapters.html":` + strings.Replace(quoted, "2", "4", -1) + `}`),
		5: {status: http.StatusOK, contentType: "text/html; charset=utf-8", body: strings.Replace(fragment, "2", "5", -1)},
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{JSONHTMLKey: "chapters.html"})

	res, err := p.Resolve(context.Background(), tocPage(1, 5), srv.URL+"/book/42/")
	require.NoError(t, err)

	require.Len(t, res.Chapters, 5)
	for i, ch := range res.Chapters {
		assert.Equal(t, fmt.Sprintf("Chapter %d", i+1), ch.Title)
	}
	assert.Empty(t, res.EmptyPages)
}

// TestResolve_AJAXRequestShape verifies method, payload and headers
func TestResolve_AJAXRequestShape(t *testing.T) {
	tests := []struct {
		method string
	}{
		{method: "POST"},
		{method: "GET"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			srv := newAJAXServer(t, map[int]pageResponse{2: jsonPage(dataPage(2, 1))})
			p := newTestPaginator(t, srv, site.PaginationConfig{
				AjaxMethod: tt.method,
				Cookies:    map[string]string{"zh_choose": "s"},
			})
			novelURL := srv.URL + "/book/42/"

			_, err := p.Resolve(context.Background(), tocPage(1, 2), novelURL)
			require.NoError(t, err)

			require.Len(t, srv.requests, 1)
			r := srv.requests[0]
			assert.Equal(t, tt.method, r.Method)
			assert.Equal(t, "/ajax/chapters", r.URL.Path)
			assert.Equal(t, "42", r.Form.Get("id"))
			assert.Equal(t, "2", r.Form.Get("page"))
			assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
			assert.Equal(t, novelURL, r.Header.Get("Referer"))
			assert.Equal(t, srv.URL, r.Header.Get("Origin"))
			assert.Equal(t, ajaxContentType, r.Header.Get("Content-Type"))
			assert.Contains(t, r.Header.Get("Accept"), "application/json")

			cookie, err := r.Cookie("zh_choose")
			require.NoError(t, err)
			assert.Equal(t, "s", cookie.Value)
		})
	}
}

// TestResolve_UnsupportedMethod verifies pagination is skipped for unknown
// methods
func TestResolve_UnsupportedMethod(t *testing.T) {
	srv := newAJAXServer(t, nil)
	p := newTestPaginator(t, srv, site.PaginationConfig{AjaxMethod: "PUT"})

	res, err := p.Resolve(context.Background(), tocPage(2, 3), srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Empty(t, srv.requestedPages())
	assert.Len(t, res.Chapters, 2)
}

// TestResolve_DuplicatesKeptByDefault verifies repeated entries keep
// distinct ordinals
func TestResolve_DuplicatesKeptByDefault(t *testing.T) {
	srv := newAJAXServer(t, map[int]pageResponse{
		2: jsonPage(dataPage(1, 2)),
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{MaxAjaxPages: 2})

	res, err := p.Resolve(context.Background(), tocPage(2, 0), srv.URL+"/book/42/")
	require.NoError(t, err)

	require.Len(t, res.Chapters, 4)
	assert.Equal(t, res.Chapters[0].URL, res.Chapters[2].URL)
	assert.Equal(t, 3, res.Chapters[2].Ordinal)
	assert.Zero(t, res.Duplicates)
}

// TestResolve_DedupeURLs verifies opt-in deduplication, which also ends
// dynamic pagination when a page only repeats known chapters
func TestResolve_DedupeURLs(t *testing.T) {
	srv := newAJAXServer(t, map[int]pageResponse{
		2: jsonPage(dataPage(2, 2)),
		3: jsonPage(dataPage(1, 3)),
		4: jsonPage(dataPage(9, 1)),
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{MaxAjaxPages: 10, DedupeURLs: true})

	res, err := p.Resolve(context.Background(), tocPage(2, 0), srv.URL+"/book/42/")
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, srv.requestedPages())
	require.Len(t, res.Chapters, 3)
	assert.Equal(t, 3, res.Chapters[2].Ordinal)
	assert.Equal(t, srv.URL+"/book/42/3.html", res.Chapters[2].URL)
	assert.Equal(t, 4, res.Duplicates)
}

// TestResolve_Cancelled verifies cancellation stops the walk
func TestResolve_Cancelled(t *testing.T) {
	srv := newAJAXServer(t, nil)
	p := newTestPaginator(t, srv, site.PaginationConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Resolve(ctx, tocPage(2, 5), srv.URL+"/book/42/")

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Len(t, res.Chapters, 2)
}

// TestResolve_MaxChapters verifies chapters past MaxChapters are dropped and
// pagination is skipped once the limit is reached
func TestResolve_MaxChapters(t *testing.T) {
	srv := newAJAXServer(t, map[int]pageResponse{
		2: jsonPage(dataPage(MaxChapters+10, 3)),
	})
	p := newTestPaginator(t, srv, site.PaginationConfig{MaxAjaxPages: 5})

	res, err := p.Resolve(context.Background(), tocPage(MaxChapters+4, 0), srv.URL+"/book/42/")
	require.NoError(t, err)

	require.Len(t, res.Chapters, MaxChapters)
	assert.Equal(t, MaxChapters, res.Chapters[MaxChapters-1].Ordinal)
	assert.Equal(t, 4, res.Overflow)
	assert.Empty(t, srv.requestedPages())
}

type staticFetcher struct {
	resp *fetch.Response
}

func (f staticFetcher) Do(ctx context.Context, r fetch.Request) (*fetch.Response, error) {
	return f.resp, nil
}

// TestFetchPage_Unrecognized verifies a response of unknown shape is reported
// as ErrUnrecognized
func TestFetchPage_Unrecognized(t *testing.T) {
	p := NewPaginator(staticFetcher{resp: response("text/plain", "hello")}, Options{
		Extractor: testExtractor("http://example.com"),
	})
	w := &walk{res: &Result{}, seen: make(map[string]bool)}

	added, err := p.fetchPage(context.Background(), w, fetch.Request{URL: "http://example.com/ajax"}, "http://example.com/book/42/")

	assert.ErrorIs(t, err, ErrUnrecognized)
	assert.Zero(t, added)
	assert.Empty(t, w.res.Chapters)
}
