// Package crawler walks the KAIS OpenData directory tree and returns every
// file it lists.
package crawler

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/httpclient"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/progress"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const rootPath = "/"

// Crawler fetches the anti-forgery token and walks the listing endpoint.
type Crawler struct {
	client  *httpclient.HTTPClient
	cfg     config.RemoteConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewCrawler creates a Crawler. Listing requests are paced to
// cfg.RequestsPerSecond; zero disables pacing.
func NewCrawler(client *httpclient.HTTPClient, cfg config.RemoteConfig, logger zerolog.Logger) *Crawler {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Crawler{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "Crawler").Logger(),
	}
}

// SourceURL is the OpenData landing page every item is attributed to.
func (c *Crawler) SourceURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.OpenDataPath
}

// DownloadURL builds the download endpoint URL for a remote file path.
func (c *Crawler) DownloadURL(remotePath string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.DownloadPath + "?path=" + quotePath(remotePath)
}

func (c *Crawler) readURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.ReadPath
}

// FetchItems performs a full crawl: root page, token, then a depth-first walk
// of the listing tree. Entries with a missing or unparseable timestamp are
// skipped with a warning. The result is sorted by title.
func (c *Crawler) FetchItems(ctx context.Context, reporter progress.Reporter) ([]models.ScrapedItem, error) {
	reporter = progress.Safe(reporter, c.logger)

	reporter.Report(progress.StageStart, progress.Payload{"message": "Fetching OpenData root"})
	html, err := c.fetchRootHTML(ctx)
	if err != nil {
		return nil, err
	}

	token, err := ExtractToken(html, c.cfg.TokenField)
	if err != nil {
		return nil, err
	}
	reporter.Report(progress.StageToken, progress.Payload{"message": "Token extracted"})

	items, err := c.walk(ctx, token, reporter)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Title < items[j].Title })

	c.logger.Info().Int("items", len(items)).Msg("Listing crawl finished")
	return items, nil
}

func (c *Crawler) fetchRootHTML(ctx context.Context) ([]byte, error) {
	resp, err := c.client.Get(ctx, c.SourceURL(), map[string]string{"Accept": "text/html,application/xhtml+xml"})
	if err != nil {
		return nil, errorwrapper.WrapError(err, "failed to fetch OpenData root")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorwrapper.NewHTTPErrorWithURL(resp.StatusCode, "unexpected status for OpenData root", c.SourceURL())
	}
	return resp.Body, nil
}

// walk visits directories with an explicit stack and a visited set, so a
// listing that refers back to an ancestor cannot loop.
func (c *Crawler) walk(ctx context.Context, token string, reporter progress.Reporter) ([]models.ScrapedItem, error) {
	stack := []string{rootPath}
	visited := make(map[string]struct{})
	var items []models.ScrapedItem

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		entries, err := c.requestListing(ctx, token, current)
		if err != nil {
			return nil, err
		}
		reporter.Report(progress.StageListing, progress.Payload{"path": current, "entries": len(entries)})

		for _, entry := range entries {
			p := entry.path()
			if p == "" {
				continue
			}
			if entry.isDirectory() {
				stack = append(stack, p)
				continue
			}

			item, err := c.buildItem(entry)
			if err != nil {
				c.logger.Warn().Str("path", p).Err(err).Msg("Skipping entry")
				continue
			}
			items = append(items, item)
			reporter.Report(progress.StageFile, progress.Payload{"path": item.Path, "count": len(items)})
		}
	}
	return items, nil
}

func (c *Crawler) requestListing(ctx context.Context, token, remotePath string) ([]listingEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if remotePath == "" {
		remotePath = rootPath
	}
	form := url.Values{}
	form.Set(c.cfg.TokenField, token)
	form.Set("path", remotePath)
	if remotePath != rootPath {
		form.Set("target", remotePath)
	}

	resp, err := c.client.PostForm(ctx, c.readURL(), form, map[string]string{
		"X-Requested-With": "XMLHttpRequest",
		"Accept":           "application/json, text/javascript, */*; q=0.01",
	})
	if err != nil {
		return nil, errorwrapper.WrapError(err, "listing request for "+remotePath+" failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorwrapper.NewHTTPErrorWithURL(resp.StatusCode, "listing request for "+remotePath+" failed", c.readURL())
	}

	c.logger.Debug().Str("path", remotePath).Int("bytes", len(resp.Body)).Msg("Listing fetched")
	return decodeListing(resp.Body)
}

func (c *Crawler) buildItem(entry listingEntry) (models.ScrapedItem, error) {
	p := entry.path()
	observed, err := entry.observed()
	if err != nil {
		return models.ScrapedItem{}, err
	}
	return models.ScrapedItem{
		Title:     strings.ReplaceAll(p, "/", " / "),
		Path:      p,
		FileURL:   c.DownloadURL(p),
		SourceURL: c.SourceURL(),
		Observed:  observed,
	}, nil
}
