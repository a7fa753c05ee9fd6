package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pevans/novelfetch/extract"
	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/segment"
	"github.com/pevans/novelfetch/site"
	"github.com/pevans/novelfetch/title"
	"github.com/pevans/novelfetch/toc"
)

// ErrUnknownSiteType is returned for a site type with no registered
// strategy.
var ErrUnknownSiteType = errors.New("unknown site type")

// Strategy harvests one kind of site.
type Strategy interface {
	// TOCURL returns the URL of the document ResolveTOC reads.
	TOCURL(novelURL string) string
	// ResolveTOC returns the ordered chapter list from the TOC document.
	ResolveTOC(ctx context.Context, tocPage, novelURL string) (*toc.Result, error)
	// SegmentChapter extracts one chapter page and persists its
	// sub-chapters through sink.
	SegmentChapter(ordinal int, page, tocTitle string, carry segment.CarryState, sink segment.Sink) (segment.Result, error)
}

// Deps are the collaborators handed to strategy factories.
type Deps struct {
	Fetcher  toc.Fetcher
	Patterns *site.Patterns
	Logger   logger.Logger
}

// Factory builds a strategy for a site configuration.
type Factory func(cfg *site.Config, deps Deps) (Strategy, error)

// Registry maps site types to strategy factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in "ajax" and "feed" site
// types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("ajax", newPageStrategy)
	r.Register("feed", newFeedStrategy)
	return r
}

// Register adds or replaces the factory for siteType.
func (r *Registry) Register(siteType string, f Factory) {
	r.factories[siteType] = f
}

// Types returns the registered site types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build creates the strategy for cfg.SiteType.
func (r *Registry) Build(cfg *site.Config, deps Deps) (Strategy, error) {
	f, ok := r.factories[cfg.SiteType]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownSiteType, cfg.SiteType, r.Types())
	}
	return f(cfg, deps)
}

// chapterSegmenter is shared by the built-in strategies: it extracts a
// chapter page with CSS selectors and runs the segmentation engine.
type chapterSegmenter struct {
	extractor *extract.Extractor
	engine    *segment.Engine
}

func newChapterSegmenter(cfg *site.Config, deps Deps) chapterSegmenter {
	p := deps.Patterns
	return chapterSegmenter{
		extractor: selectorExtractor(cfg),
		engine: segment.NewEngine(
			title.NewNormalizer(p.TitleRemove, p.TitleOrdinal),
			p.InContent,
			p.ParserSplit,
			deps.Logger,
		),
	}
}

func selectorExtractor(cfg *site.Config) *extract.Extractor {
	return extract.New(extract.Selectors{
		NovelTitle:     cfg.NovelTitleSelector,
		ChapterList:    cfg.ChapterListSelector,
		ChapterTitle:   cfg.ChapterTitleSelector,
		ChapterContent: cfg.ChapterContentSelector,
	}, cfg.BaseURL)
}

func (s chapterSegmenter) SegmentChapter(ordinal int, page, tocTitle string, carry segment.CarryState, sink segment.Sink) (segment.Result, error) {
	doc, err := extract.Parse(page)
	if err != nil {
		return segment.Result{Carry: carry}, err
	}

	pageTitle, content, err := s.extractor.Chapter(doc)
	if err != nil {
		return segment.Result{Carry: carry}, err
	}

	return s.engine.Segment(segment.Input{
		Ordinal:   ordinal,
		Block:     segment.ContentBlock{RawText: content},
		TOCTitle:  tocTitle,
		PageTitle: pageTitle,
		Carry:     carry,
	}, sink)
}

// pageStrategy reads an HTML table of contents with optional AJAX
// pagination.
type pageStrategy struct {
	chapterSegmenter
	paginator *toc.Paginator
}

func newPageStrategy(cfg *site.Config, deps Deps) (Strategy, error) {
	return &pageStrategy{
		chapterSegmenter: newChapterSegmenter(cfg, deps),
		paginator: toc.NewPaginator(deps.Fetcher, toc.Options{
			Extractor:  selectorExtractor(cfg),
			Pagination: cfg.Pagination,
			NovelID:    deps.Patterns.NovelIDFromURL,
			BaseURL:    cfg.BaseURL,
			Logger:     deps.Logger,
		}),
	}, nil
}

func (s *pageStrategy) TOCURL(novelURL string) string {
	return novelURL
}

func (s *pageStrategy) ResolveTOC(ctx context.Context, tocPage, novelURL string) (*toc.Result, error) {
	return s.paginator.Resolve(ctx, tocPage, novelURL)
}

// feedStrategy reads the chapter list from an RSS, Atom or JSON feed.
type feedStrategy struct {
	chapterSegmenter
	feedURL  string
	resolver *toc.FeedResolver
}

func newFeedStrategy(cfg *site.Config, deps Deps) (Strategy, error) {
	return &feedStrategy{
		chapterSegmenter: newChapterSegmenter(cfg, deps),
		feedURL:          cfg.FeedURL,
		resolver:         toc.NewFeedResolver(cfg.BaseURL, cfg.Pagination.DedupeURLs, deps.Logger),
	}, nil
}

func (s *feedStrategy) TOCURL(novelURL string) string {
	if s.feedURL == "" {
		return novelURL
	}
	return extract.Resolve(novelURL, s.feedURL)
}

func (s *feedStrategy) ResolveTOC(ctx context.Context, tocPage, novelURL string) (*toc.Result, error) {
	return s.resolver.Resolve(ctx, tocPage, s.TOCURL(novelURL))
}
