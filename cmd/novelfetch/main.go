package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pevans/novelfetch/assemble"
	"github.com/pevans/novelfetch/cache"
	"github.com/pevans/novelfetch/config"
	"github.com/pevans/novelfetch/fetch"
	"github.com/pevans/novelfetch/harvest"
	"github.com/pevans/novelfetch/logger"
	"github.com/pevans/novelfetch/site"
	"github.com/pevans/novelfetch/title"
)

// options holds the parsed command line.
type options struct {
	siteConfig   string
	url          string
	output       string
	cacheDir     string
	logFile      string
	logLevel     string
	logJSON      bool
	clearCache   bool
	chapters     string
	listChapters bool
	json         bool
	format       string
	lang         string
}

func main() {
	fileCfg, err := config.LoadConfigFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	settings := config.Resolve(fileCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(settings).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(settings config.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "novelfetch <site-config>",
		Short: "Download web novels chapter by chapter",
		Long: `novelfetch resolves a novel's table of contents (following AJAX
pagination when the site uses it), downloads every chapter, splits chapters
into sub-chapter files and assembles the result into a text file or EPUB.

<site-config> is a path to a site YAML/JSON file or the name of one in the
config directory.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.siteConfig = args[0]
			return run(cmd.Context(), settings, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "novel URL (default: the site's start_url)")
	f.StringVarP(&opts.output, "output", "o", settings.OutputDir, "directory novels are saved under")
	f.StringVarP(&opts.cacheDir, "cache-dir", "c", settings.CacheDir, "directory for page caches")
	f.StringVar(&opts.logFile, "log-file", "", `log file (default: logs/<site-config>.log, "none" to disable)`)
	f.StringVar(&opts.logLevel, "log-level", settings.LogLevel, "log level: debug, info, warn, error")
	f.BoolVar(&opts.logJSON, "log-json", settings.LogJSON, "write logs as JSON")
	f.BoolVar(&opts.clearCache, "clear-cache", false, "clear the site's page cache before running")
	f.StringVar(&opts.chapters, "chapters", "", `chapters to download, e.g. "1-5,8,10-12" (default: all)`)
	f.BoolVar(&opts.listChapters, "list-chapters", false, "list the table of contents and exit")
	f.BoolVar(&opts.json, "json", false, "print the chapter list as JSON")
	f.StringVar(&opts.format, "format", settings.Formats, `merged output formats: "txt", "epub", "txt,epub" or "none"`)
	f.StringVar(&opts.lang, "lang", settings.Lang, "EPUB language (default: zh-CN)")

	return cmd
}

func run(ctx context.Context, settings config.Settings, opts *options, stdout io.Writer) error {
	configPath, err := settings.SiteConfigPath(opts.siteConfig)
	if err != nil {
		return err
	}
	cfg, err := site.Load(configPath)
	if err != nil {
		return err
	}

	formats, err := assemble.ParseFormats(opts.format)
	if err != nil {
		return err
	}

	log, closeLog, err := openLogger(opts, configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	selection, invalid := harvest.ParseSelection(opts.chapters)
	for _, part := range invalid {
		log.Warn("ignoring invalid chapter selection", "part", part)
	}
	if strings.TrimSpace(opts.chapters) != "" && len(selection) == 0 {
		return fmt.Errorf("no valid chapters in --chapters %q", opts.chapters)
	}

	novelURL := opts.url
	if novelURL == "" {
		novelURL = cfg.StartURL
	}
	if novelURL == "" {
		return errors.New("no novel URL: pass --url or set start_url in the site config")
	}

	client, err := fetch.NewClient(fetch.Options{Headers: cfg.Headers, Proxy: cfg.Proxy})
	if err != nil {
		return err
	}

	store, err := openCache(cfg, opts, log)
	if err != nil {
		return err
	}
	var pageCache harvest.PageCache
	if store != nil {
		defer store.Close()
		pageCache = store
	}

	h, err := harvest.New(harvest.Options{
		Site:    cfg,
		Fetcher: client,
		Cache:   pageCache,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	if opts.listChapters {
		res, err := h.ListChapters(ctx, novelURL)
		if err != nil {
			return err
		}
		if opts.json {
			return printChapterJSON(stdout, res)
		}
		printChapterTable(stdout, res)
		return nil
	}

	res, err := h.Download(ctx, novelURL, opts.output, selection)
	if err != nil {
		return err
	}

	var books []string
	if len(formats) > 0 && res.Succeeded > 0 {
		a := assemble.New(afero.NewOsFs(), assemble.Options{Formats: formats, Lang: opts.lang, Logger: log})
		books, err = a.Assemble(res.Dir, res.NovelTitle)
		if err != nil {
			log.Error("failed to assemble book", "dir", res.Dir, "err", err)
		}
	}

	printSummary(stdout, res, books)

	if res.Selected > 0 && res.Succeeded == 0 {
		return fmt.Errorf("all %d selected chapters failed", res.Selected)
	}
	return nil
}

// openLogger writes logs to stderr and, unless disabled, to a log file.
func openLogger(opts *options, configPath string) (logger.Logger, func(), error) {
	cfg := logger.DefaultConfig()
	cfg.Level = opts.logLevel
	cfg.JSON = opts.logJSON

	path := opts.logFile
	if path == "" {
		stem := strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
		path = filepath.Join("logs", stem+".log")
	}
	if path == "none" {
		return logger.New(cfg), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	cfg.Output = io.MultiWriter(os.Stderr, file)
	return logger.New(cfg), func() { file.Close() }, nil
}

// openCache opens the site's page cache at <cache-dir>/<site>/cache.db. It
// returns nil when caching is disabled for the site. --clear-cache empties
// the cache even then.
func openCache(cfg *site.Config, opts *options, log logger.Logger) (*cache.Store, error) {
	if !cfg.CacheEnabled() && !opts.clearCache {
		return nil, nil
	}

	name := title.Sanitize(cfg.SiteName)
	if name == "" {
		name = "default"
	}
	dir := filepath.Join(opts.cacheDir, name)
	store, err := cache.Open(filepath.Join(dir, "cache.db"), cfg.Cache.CacheTTL())
	if err != nil {
		return nil, err
	}

	entries, err := store.Len()
	if err != nil {
		store.Close()
		return nil, err
	}

	if opts.clearCache {
		if err := store.Clear(); err != nil {
			store.Close()
			return nil, err
		}
		log.Info("cleared page cache", "dir", dir, "entries", entries)
	} else {
		log.Debug("opened page cache", "dir", dir, "entries", entries)
	}

	if !cfg.CacheEnabled() {
		store.Close()
		return nil, nil
	}
	return store, nil
}
