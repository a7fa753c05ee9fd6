package site

// fileConfig is the on-disk shape of a site file: the current keys plus the
// key names used by older site files.
type fileConfig struct {
	Config `yaml:",inline"`

	Proxies                 map[string]string `yaml:"proxies"`
	DownloadDelaySeconds    *float64          `yaml:"download_delay_seconds"`
	// DownloaderClass is accepted and ignored; site_type picks the strategy.
	DownloaderClass         string            `yaml:"downloader_class"`
	ChapterSplittingEnabled *bool             `yaml:"chapter_splitting_enabled"`
	ChapterSplittingRegex   string            `yaml:"chapter_splitting_regex"`
	PaginationConfig        *legacyPagination `yaml:"pagination_config"`
	CacheSettings           *legacyCache      `yaml:"cache_settings"`
}

type legacyPagination struct {
	AjaxURL        string `yaml:"ajax_url"`
	AjaxMethod     string `yaml:"ajax_method"`
	IDFromURLRegex string `yaml:"id_from_url_regex"`
	MaxAjaxPages   int    `yaml:"max_ajax_pages"`
	SelectSelector string `yaml:"pagination_select_selector"`
	OptionSelector string `yaml:"pagination_option_selector"`
	JSONHTMLKey    string `yaml:"json_response_chapters_html_key"`
}

type legacyCache struct {
	Enabled          *bool `yaml:"enabled"`
	ExpiresInSeconds int   `yaml:"expires_in_seconds"`
}

// merge folds the older keys into the current fields. A current key that
// is set always wins.
func (f *fileConfig) merge() *Config {
	c := f.Config

	if c.Proxy == "" {
		c.Proxy = firstNonEmpty(f.Proxies["https"], f.Proxies["http"])
	}
	// Older files used download_delay_seconds for the AJAX request delay.
	if c.Pagination.Delay < 0 && f.DownloadDelaySeconds != nil {
		c.Pagination.Delay = *f.DownloadDelaySeconds
	}

	if f.ChapterSplittingEnabled != nil && !c.ChapterSplitting.Enabled {
		c.ChapterSplitting.Enabled = *f.ChapterSplittingEnabled
	}
	c.ChapterSplitting.Regex = firstNonEmpty(c.ChapterSplitting.Regex, f.ChapterSplittingRegex, c.ChapterSplitting.HeaderRegex)
	c.InContentSplitting.Regex = firstNonEmpty(c.InContentSplitting.Regex, c.InContentSplitting.HeaderRegex)
	c.ChapterSplitting.HeaderRegex = ""
	c.InContentSplitting.HeaderRegex = ""

	if lp := f.PaginationConfig; lp != nil {
		p := &c.Pagination
		p.AjaxURL = firstNonEmpty(p.AjaxURL, lp.AjaxURL)
		p.AjaxMethod = firstNonEmpty(p.AjaxMethod, lp.AjaxMethod)
		p.IDFromURLRegex = firstNonEmpty(p.IDFromURLRegex, lp.IDFromURLRegex)
		p.SelectSelector = firstNonEmpty(p.SelectSelector, lp.SelectSelector)
		p.OptionSelector = firstNonEmpty(p.OptionSelector, lp.OptionSelector)
		p.JSONHTMLKey = firstNonEmpty(p.JSONHTMLKey, lp.JSONHTMLKey)
		if p.MaxAjaxPages <= 0 {
			p.MaxAjaxPages = lp.MaxAjaxPages
		}
	}

	if lc := f.CacheSettings; lc != nil {
		if c.Cache.Enabled == nil {
			c.Cache.Enabled = lc.Enabled
		}
		if c.Cache.ExpiresIn == 0 {
			c.Cache.ExpiresIn = lc.ExpiresInSeconds
		}
	}

	return &c
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
