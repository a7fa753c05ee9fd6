// Package segment decides how the content block of one fetched chapter page
// maps to logical sub-chapters.
//
// Three strategies are tried in order and the first one that persists
// anything wins:
//
//   - in-content headers: header lines inside the text start new chapters,
//     and text before the first header is carried into the previously
//     written file
//   - parser split: the text is cut on a delimiter pattern whose first
//     capture group is the sub-chapter title; text with no delimiter is
//     saved as a single part
//   - whole block: the text is written as one chapter under the page title
//
// The engine holds no state between calls. The last written file is passed
// in and handed back as a CarryState value, so callers must thread it
// through chapters strictly in order.
package segment

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/title"
)

// Strategy identifies which segmentation strategy produced a sub-chapter.
type Strategy int

const (
	Whole Strategy = iota
	InContent
	ParserSplit
)

// Tag is the short name used in filenames. Whole has none.
func (s Strategy) Tag() string {
	switch s {
	case InContent:
		return "ics"
	case ParserSplit:
		return "psr"
	default:
		return ""
	}
}

func (s Strategy) String() string {
	switch s {
	case InContent:
		return "in-content"
	case ParserSplit:
		return "parser-split"
	default:
		return "whole"
	}
}

// ContentBlock is the extracted text region of a chapter page.
type ContentBlock struct {
	RawText string
}

// SubChapter is one logical chapter emitted from a page. Ordinal is the
// owning TOC chapter's ordinal; (Strategy, Counter) orders sub-chapters of
// the same page.
type SubChapter struct {
	Ordinal  int
	Strategy Strategy
	Counter  int
	Title    string
	Body     string
}

// CarryState records the most recently persisted sub-chapter. The zero value
// means nothing has been written yet.
type CarryState struct {
	LastTitle string
	LastPath  string
}

// Empty reports whether there is no previous file to append to.
func (c CarryState) Empty() bool {
	return c.LastPath == ""
}

// Sink persists sub-chapters.
type Sink interface {
	// Write creates the file for sc and returns its path.
	Write(sc SubChapter) (string, error)
	// Append adds orphan text to an existing file.
	Append(path, text string) error
}

// Input is everything Segment needs about one page.
type Input struct {
	Ordinal   int
	Block     ContentBlock
	TOCTitle  string
	PageTitle string
	Carry     CarryState
}

// Result reports what Segment persisted.
type Result struct {
	Strategy    Strategy
	SubChapters []SubChapter
	Paths       []string
	Appended    int
	Carry       CarryState
}

// Persisted reports whether anything was written or appended.
func (r Result) Persisted() bool {
	return len(r.SubChapters) > 0 || r.Appended > 0
}

// Engine applies the configured strategies. Nil patterns disable the
// corresponding strategy.
type Engine struct {
	normalizer  *title.Normalizer
	inContent   *regexp.Regexp
	parserSplit *regexp.Regexp
	log         logger.Logger
}

// NewEngine creates an engine.
func NewEngine(normalizer *title.Normalizer, inContent, parserSplit *regexp.Regexp, log logger.Logger) *Engine {
	return &Engine{
		normalizer:  normalizer,
		inContent:   inContent,
		parserSplit: parserSplit,
		log:         logger.OrNop(log),
	}
}

// run is the working state of one Segment call.
type run struct {
	*Engine
	in     Input
	sink   Sink
	res    Result
	errs   []error
	header string
}

// Segment persists the sub-chapters of one page through sink and returns
// them together with the updated carry. Write and append failures are
// joined into the returned error; they never advance the carry and do not
// stop the remaining sub-chapters of the page.
func (e *Engine) Segment(in Input, sink Sink) (Result, error) {
	r := &run{
		Engine: e,
		in:     in,
		sink:   sink,
		res:    Result{Carry: in.Carry},
		header: e.effectiveTitle(in.TOCTitle, in.PageTitle),
	}

	if e.inContent != nil {
		r.res.Strategy = InContent
		r.inContentHeaders()
		if r.res.Persisted() {
			return r.finish()
		}
	}

	// An orphan block whose append failed must not be written again.
	if len(r.errs) > 0 {
		return r.finish()
	}

	if e.parserSplit != nil {
		r.res.Strategy = ParserSplit
		r.parserSplitParts()
		if r.res.Persisted() {
			return r.finish()
		}
	}

	r.res.Strategy = Whole
	r.wholeBlock()
	return r.finish()
}

// effectiveTitle prefers the title found on the page over the TOC title.
func (e *Engine) effectiveTitle(tocTitle, pageTitle string) string {
	if cleaned := e.normalizer.Clean(pageTitle); cleaned != "" {
		return cleaned
	}
	return e.normalizer.Normalize(tocTitle)
}

func (r *run) finish() (Result, error) {
	return r.res, errors.Join(r.errs...)
}

// emit writes one sub-chapter and advances the carry on success.
func (r *run) emit(strategy Strategy, counter int, subTitle, body string) {
	sc := SubChapter{
		Ordinal:  r.in.Ordinal,
		Strategy: strategy,
		Counter:  counter,
		Title:    subTitle,
		Body:     body,
	}

	path, err := r.sink.Write(sc)
	if err != nil {
		r.log.Error("failed to save sub-chapter", "chapter", r.in.Ordinal, "title", subTitle, "err", err)
		r.errs = append(r.errs, fmt.Errorf("failed to save %q: %w", subTitle, err))
		return
	}

	r.log.Debug("saved sub-chapter", "chapter", r.in.Ordinal, "strategy", strategy, "path", path)
	r.res.SubChapters = append(r.res.SubChapters, sc)
	r.res.Paths = append(r.res.Paths, path)
	r.res.Carry = CarryState{LastTitle: subTitle, LastPath: path}
}

// appendCarry appends orphan text to the carried file. The carry itself is
// left untouched.
func (r *run) appendCarry(text string) {
	carry := r.res.Carry
	if err := r.sink.Append(carry.LastPath, text); err != nil {
		r.log.Error("failed to append orphan text", "chapter", r.in.Ordinal, "path", carry.LastPath, "err", err)
		r.errs = append(r.errs, fmt.Errorf("failed to append to %s: %w", carry.LastPath, err))
		return
	}
	r.log.Info("merged orphan text into previous chapter", "chapter", r.in.Ordinal, "previous", carry.LastTitle)
	r.res.Appended++
}

func (r *run) inContentHeaders() {
	text := r.in.Block.RawText
	matches := r.inContent.FindAllStringIndex(text, -1)

	if len(matches) == 0 {
		if r.res.Carry.Empty() {
			r.log.Debug("no in-content headers and nothing to merge into", "chapter", r.in.Ordinal)
			return
		}
		if block := strings.TrimSpace(text); block != "" {
			r.appendCarry(block)
		}
		return
	}

	counter := 0
	if prefix := strings.TrimSpace(text[:matches[0][0]]); prefix != "" {
		if r.res.Carry.Empty() {
			r.emit(InContent, counter, r.header, prefix)
		} else {
			r.appendCarry(prefix)
		}
	}

	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		subTitle := r.normalizer.Clean(text[m[0]:m[1]])
		body := strings.TrimSpace(text[m[1]:end])

		switch {
		case body == "":
			r.log.Warn("dropping header without body", "chapter", r.in.Ordinal, "header", strings.TrimSpace(text[m[0]:m[1]]))
		case subTitle == "" && !r.res.Carry.Empty():
			r.appendCarry(body)
		case subTitle == "":
			counter++
			r.emit(InContent, counter, r.header, body)
		default:
			counter++
			r.emit(InContent, counter, subTitle, body)
		}
	}

	if len(r.res.SubChapters) == 0 && r.res.Appended == 0 {
		r.log.Warn("in-content splitting produced no sub-chapters", "chapter", r.in.Ordinal)
	}
}

func (r *run) parserSplitParts() {
	text := r.in.Block.RawText
	matches := r.parserSplit.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if lead := strings.TrimSpace(text); lead != "" {
			r.log.Debug("parser split found no delimiter, saving one part", "chapter", r.in.Ordinal)
			r.emit(ParserSplit, 1, r.header, lead)
		}
		return
	}

	counter := 0
	if lead := strings.TrimSpace(text[:matches[0][0]]); lead != "" {
		counter++
		r.emit(ParserSplit, counter, fmt.Sprintf("%s_part%d", r.header, counter), lead)
	}

	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		raw := text[m[0]:m[1]]
		if len(m) >= 4 && m[2] >= 0 {
			raw = text[m[2]:m[3]]
		}
		subTitle := r.normalizer.Clean(title.CollapseSpace(raw))
		body := strings.TrimSpace(text[m[1]:end])

		if subTitle == "" || body == "" {
			r.log.Warn("skipping empty parser-split group", "chapter", r.in.Ordinal, "title", subTitle)
			continue
		}
		counter++
		r.emit(ParserSplit, counter, subTitle, body)
	}
}

// wholeBlock writes the block unmodified as a single chapter.
func (r *run) wholeBlock() {
	if strings.TrimSpace(r.in.Block.RawText) == "" {
		r.errs = append(r.errs, fmt.Errorf("chapter %d: empty content block", r.in.Ordinal))
		return
	}
	header := r.header
	if header == "" || header == title.Untitled {
		header = fmt.Sprintf("chapter_%d", r.in.Ordinal)
	}
	r.emit(Whole, 0, header, r.in.Block.RawText)
}
