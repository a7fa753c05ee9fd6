// Package site holds the per-site scraping configuration: selectors,
// pagination settings, title cleaning and chapter splitting patterns.
package site

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines how to harvest novels from a specific website. Files may be
// YAML or JSON.
type Config struct {
	SiteName string `yaml:"site_name"`
	// SiteType selects the harvesting strategy from the registry. Default:
	// "ajax".
	SiteType string            `yaml:"site_type"`
	BaseURL  string            `yaml:"base_url"`
	StartURL string            `yaml:"start_url"`
	Headers  map[string]string `yaml:"headers"`
	Proxy    string            `yaml:"proxy"`
	// DownloadDelay is the minimum spacing between chapter page fetches, in
	// seconds.
	DownloadDelay float64 `yaml:"download_delay"`

	NovelTitleSelector     string `yaml:"novel_title_selector"`
	ChapterListSelector    string `yaml:"chapter_list_selector"`
	ChapterTitleSelector   string `yaml:"chapter_title_selector"`
	ChapterContentSelector string `yaml:"chapter_content_selector"`

	// FeedURL is the RSS/Atom chapter feed used by the "feed" site type.
	// Defaults to the novel URL.
	FeedURL string `yaml:"feed_url"`

	TitlePatterns      TitlePatterns    `yaml:"title_patterns"`
	ChapterSplitting   SplittingConfig  `yaml:"chapter_splitting"`
	InContentSplitting SplittingConfig  `yaml:"in_content_splitting"`
	Pagination         PaginationConfig `yaml:"pagination"`
	Cache              CacheConfig      `yaml:"cache"`
}

// TitlePatterns configures title cleaning.
type TitlePatterns struct {
	RemoveRegex        StringList `yaml:"remove_regex"`
	OrdinalPrefixRegex string     `yaml:"ordinal_prefix_regex"`
}

// StringList is a list of strings that may also be written as a single
// string.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var one string
		if err := value.Decode(&one); err != nil {
			return err
		}
		*l = nil
		if one != "" {
			*l = StringList{one}
		}
		return nil
	}

	var many []string
	if err := value.Decode(&many); err != nil {
		return err
	}
	*l = many
	return nil
}

// SplittingConfig enables one chapter splitting strategy. Patterns are
// compiled in multi-line mode so ^ and $ match at line boundaries.
type SplittingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Regex   string `yaml:"regex"`
	// HeaderRegex is the older name of Regex.
	HeaderRegex string `yaml:"header_regex"`
}

// PaginationConfig describes AJAX pagination of the table of contents.
type PaginationConfig struct {
	AjaxURL    string `yaml:"ajax_url"`
	AjaxMethod string `yaml:"ajax_method"` // "POST" or "GET"; default: "POST"

	// IDFromURLRegex extracts the novel id (first capture group) from the
	// novel URL.
	IDFromURLRegex string `yaml:"id_from_url_regex"`

	SelectSelector string            `yaml:"select_selector"` // default: "select.select"
	OptionSelector string            `yaml:"option_selector"` // default: "option"
	MaxAjaxPages   int               `yaml:"max_ajax_pages"`  // default: 10
	JSONHTMLKey    string            `yaml:"json_html_key"`   // extra legacy HTML field
	Delay          float64           `yaml:"delay"`           // seconds between requests; default: 1
	Cookies        map[string]string `yaml:"cookies"`
	DedupeURLs     bool              `yaml:"dedupe_urls"`
}

// CacheConfig controls the raw chapter page cache.
type CacheConfig struct {
	Enabled *bool `yaml:"enabled"` // default: true
	// ExpiresIn is the entry lifetime in seconds. Zero means never.
	ExpiresIn int `yaml:"expires_in"`
}

// Default values applied by Load.
const (
	DefaultSiteType       = "ajax"
	DefaultAjaxMethod     = "POST"
	DefaultSelectSelector = "select.select"
	DefaultOptionSelector = "option"
	DefaultMaxAjaxPages   = 10
	DefaultPageDelay      = 1.0
	DefaultDownloadDelay  = 1.0
)

// Load reads a site configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse site config %s: %w", path, err)
	}

	if cfg.SiteName == "" {
		cfg.SiteName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return cfg, nil
}

// Parse decodes a site configuration and applies defaults. Unknown keys are
// an error. The key names of older site files are accepted and mapped onto
// the current fields.
func Parse(data []byte) (*Config, error) {
	var f fileConfig
	f.DownloadDelay = -1
	f.Pagination.Delay = -1

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	cfg := f.merge()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SiteType == "" {
		c.SiteType = DefaultSiteType
	}
	if c.DownloadDelay < 0 {
		c.DownloadDelay = DefaultDownloadDelay
	}

	p := &c.Pagination
	p.AjaxMethod = strings.ToUpper(p.AjaxMethod)
	if p.AjaxMethod == "" {
		p.AjaxMethod = DefaultAjaxMethod
	}
	if p.SelectSelector == "" {
		p.SelectSelector = DefaultSelectSelector
	}
	if p.OptionSelector == "" {
		p.OptionSelector = DefaultOptionSelector
	}
	if p.MaxAjaxPages <= 0 {
		p.MaxAjaxPages = DefaultMaxAjaxPages
	}
	if p.Delay < 0 {
		p.Delay = DefaultPageDelay
	}
}

// CacheEnabled reports whether chapter pages should be cached.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// ChapterDelay returns the minimum spacing between chapter page fetches.
func (c *Config) ChapterDelay() time.Duration {
	return seconds(c.DownloadDelay)
}

// PageDelay returns the pause between AJAX pagination requests.
func (c *PaginationConfig) PageDelay() time.Duration {
	return seconds(c.Delay)
}

// CacheTTL returns the configured cache entry lifetime.
func (c *CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.ExpiresIn) * time.Second
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
