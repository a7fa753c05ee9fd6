package site

import (
	"fmt"
	"regexp"
)

// ConfigError reports a site pattern that failed to compile. It never aborts
// startup: the feature that depends on the pattern is disabled instead.
type ConfigError struct {
	Field   string
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Patterns holds the compiled regular expressions of a site configuration.
// A nil field means the feature is not configured or was disabled.
type Patterns struct {
	TitleRemove    []*regexp.Regexp
	TitleOrdinal   *regexp.Regexp
	InContent      *regexp.Regexp
	ParserSplit    *regexp.Regexp
	NovelIDFromURL *regexp.Regexp
}

// Compile compiles every pattern of the configuration. Invalid patterns are
// reported as ConfigErrors and leave the corresponding field nil.
func (c *Config) Compile() (*Patterns, []*ConfigError) {
	p := &Patterns{}
	var warnings []*ConfigError

	compile := func(field, pattern string, multiline bool) *regexp.Regexp {
		if pattern == "" {
			return nil
		}
		expr := pattern
		if multiline {
			expr = "(?m)" + pattern
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			warnings = append(warnings, &ConfigError{Field: field, Pattern: pattern, Err: err})
			return nil
		}
		return re
	}

	for _, pattern := range c.TitlePatterns.RemoveRegex {
		if re := compile("title_patterns.remove_regex", pattern, false); re != nil {
			p.TitleRemove = append(p.TitleRemove, re)
		}
	}
	p.TitleOrdinal = compile("title_patterns.ordinal_prefix_regex", c.TitlePatterns.OrdinalPrefixRegex, false)

	if c.InContentSplitting.Enabled {
		p.InContent = compile("in_content_splitting.regex", c.InContentSplitting.Regex, true)
	}
	if c.ChapterSplitting.Enabled {
		p.ParserSplit = compile("chapter_splitting.regex", c.ChapterSplitting.Regex, true)
	}

	p.NovelIDFromURL = compile("pagination.id_from_url_regex", c.Pagination.IDFromURLRegex, false)
	if p.NovelIDFromURL != nil && p.NovelIDFromURL.NumSubexp() < 1 {
		warnings = append(warnings, &ConfigError{
			Field:   "pagination.id_from_url_regex",
			Pattern: c.Pagination.IDFromURLRegex,
			Err:     fmt.Errorf("pattern needs a capture group for the novel id"),
		})
		p.NovelIDFromURL = nil
	}

	return p, warnings
}
