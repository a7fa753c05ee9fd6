package toc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chapterFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>  Serial   Novel </title>
    <link>https://serial.example.com/</link>
    <item>
      <title>Chapter 3</title>
      <link>/chapters/3</link>
      <pubDate>Wed, 03 Jan 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Chapter 1</title>
      <link>/chapters/1</link>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Chapter 2</title>
      <link>/chapters/2</link>
      <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title></title>
      <link>/chapters/x</link>
      <pubDate>Tue, 02 Jan 2024 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

// TestFeedResolver_OrdersByDate verifies chapters come out oldest first
func TestFeedResolver_OrdersByDate(t *testing.T) {
	r := NewFeedResolver("https://serial.example.com", false, nil)

	res, err := r.Resolve(context.Background(), chapterFeed, "https://serial.example.com/feed.xml")
	require.NoError(t, err)

	assert.Equal(t, "Serial Novel", res.Title)
	assert.Equal(t, []ChapterRef{
		{Ordinal: 1, Title: "Chapter 1", URL: "https://serial.example.com/chapters/1"},
		{Ordinal: 2, Title: "Chapter 2", URL: "https://serial.example.com/chapters/2"},
		{Ordinal: 3, Title: "Chapter 3", URL: "https://serial.example.com/chapters/3"},
	}, res.Chapters)
}

// TestFeedResolver_UndatedReversesOrder verifies feeds without dates are
// read bottom-up
func TestFeedResolver_UndatedReversesOrder(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>N</title>
  <item><title>Newest</title><link>https://a.test/3</link></item>
  <item><title>Middle</title><link>https://a.test/2</link></item>
  <item><title>Oldest</title><link>https://a.test/1</link></item>
</channel></rss>`

	res, err := NewFeedResolver("", false, nil).Resolve(context.Background(), feed, "https://a.test/feed")
	require.NoError(t, err)

	require.Len(t, res.Chapters, 3)
	assert.Equal(t, "Oldest", res.Chapters[0].Title)
	assert.Equal(t, "Newest", res.Chapters[2].Title)
}

// TestFeedResolver_Dedupe verifies repeated links are dropped on request
func TestFeedResolver_Dedupe(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>N</title>
  <item><title>One again</title><link>https://a.test/1</link></item>
  <item><title>One</title><link>https://a.test/1</link></item>
</channel></rss>`

	res, err := NewFeedResolver("", true, nil).Resolve(context.Background(), feed, "https://a.test/feed")
	require.NoError(t, err)

	require.Len(t, res.Chapters, 1)
	assert.Equal(t, "One", res.Chapters[0].Title)
	assert.Equal(t, 1, res.Duplicates)
}

// TestFeedResolver_Invalid verifies unparsable feeds are errors
func TestFeedResolver_Invalid(t *testing.T) {
	_, err := NewFeedResolver("", false, nil).Resolve(context.Background(), "not a feed", "https://a.test/feed")

	assert.Error(t, err)
}
