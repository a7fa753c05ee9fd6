package toc

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/pevans/novelfetch/extract"
	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/title"
)

// FeedResolver builds a table of contents from an RSS, Atom or JSON feed
// whose items are chapters.
type FeedResolver struct {
	parser  *gofeed.Parser
	baseURL string
	dedupe  bool
	log     logger.Logger
}

// NewFeedResolver creates a feed resolver.
func NewFeedResolver(baseURL string, dedupe bool, log logger.Logger) *FeedResolver {
	return &FeedResolver{
		parser:  gofeed.NewParser(),
		baseURL: baseURL,
		dedupe:  dedupe,
		log:     logger.OrNop(log),
	}
}

// Resolve parses feedText and returns its items as chapters, oldest first.
// Feeds list newest items first, so document order is reversed and then
// sorted by publish date when every item has one.
func (r *FeedResolver) Resolve(ctx context.Context, feedText, feedURL string) (*Result, error) {
	feed, err := r.parser.ParseString(feedText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := slices.Clone(feed.Items)
	slices.Reverse(items)

	dated := true
	for _, item := range items {
		if item.PublishedParsed == nil {
			dated = false
			break
		}
	}
	if dated {
		slices.SortStableFunc(items, func(a, b *gofeed.Item) int {
			return a.PublishedParsed.Compare(*b.PublishedParsed)
		})
	}

	base := r.baseURL
	if base == "" {
		base = feedURL
	}

	var entries []extract.Entry
	for _, item := range items {
		name := title.CollapseSpace(item.Title)
		link := strings.TrimSpace(item.Link)
		if name == "" || link == "" {
			r.log.Warn("skipping feed item without title or link", "guid", item.GUID)
			continue
		}
		entries = append(entries, extract.Entry{Title: name, URL: extract.Resolve(base, link)})
	}

	res := &Result{Title: title.CollapseSpace(feed.Title)}
	w := &walk{res: res, seen: make(map[string]bool), dedupe: r.dedupe}
	w.add(entries)
	r.log.Info("parsed chapter feed", "chapters", len(res.Chapters))
	warnOverflow(r.log, res)

	return res, ctx.Err()
}
