package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/pevans/novelfetch/harvest"
	"github.com/pevans/novelfetch/toc"
)

const titleWidth = 50

// printChapterTable prints the table of contents in human-readable table
// format. Titles are measured in terminal cells so CJK text lines up.
func printChapterTable(w io.Writer, res *toc.Result) {
	if len(res.Chapters) == 0 {
		fmt.Fprintln(w, "No chapters found.")
		return
	}

	fmt.Fprintf(w, "%s (%d chapters, pagination: %s)\n\n", res.Title, len(res.Chapters), res.State.Mode)

	fmt.Fprintf(w, "%-6s %s %s\n", "#", runewidth.FillRight("TITLE", titleWidth), "URL")
	fmt.Fprintln(w, strings.Repeat("-", 6+1+titleWidth+1+40))

	for _, ch := range res.Chapters {
		t := runewidth.Truncate(ch.Title, titleWidth, "...")
		fmt.Fprintf(w, "%-6d %s %s\n", ch.Ordinal, runewidth.FillRight(t, titleWidth), ch.URL)
	}
}

// printChapterJSON prints the table of contents in JSON format.
func printChapterJSON(w io.Writer, res *toc.Result) error {
	chapters := res.Chapters
	if chapters == nil {
		chapters = []toc.ChapterRef{}
	}
	output := map[string]any{
		"title":      res.Title,
		"chapters":   chapters,
		"total":      len(res.Chapters),
		"pagination": res.State.Mode.String(),
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	fmt.Fprintln(w, string(data))
	return nil
}

// printSummary prints the outcome of a download run.
func printSummary(w io.Writer, res *harvest.Result, books []string) {
	fmt.Fprintln(w, "Download completed:")
	fmt.Fprintf(w, "  Novel: %s\n", res.NovelTitle)
	fmt.Fprintf(w, "  Directory: %s\n", res.Dir)
	fmt.Fprintf(w, "  Chapters: %d selected of %d\n", res.Selected, res.Total)
	fmt.Fprintf(w, "  Succeeded: %d\n", res.Succeeded)
	fmt.Fprintf(w, "  Failed: %d\n", res.Failed)
	fmt.Fprintf(w, "  Files written: %d\n", len(res.Files))

	for _, b := range books {
		fmt.Fprintf(w, "  Book: %s\n", b)
	}

	if len(res.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed chapters:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %d. %s: %v\n", e.Ordinal, e.Title, e.Err)
		}
	}
}
