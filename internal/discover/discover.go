package discover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/realizacred/mais-energia-solar-sub003/internal/irradiance"
)

// SourceFile is one downloadable component file found on a provider
// index page.
type SourceFile struct {
	URL       string
	Filename  string
	Component irradiance.Component
}

// DiscoverSources fetches a provider index page and returns the data
// file links it advertises, classified by component. Relative links are
// resolved against the page URL.
func DiscoverSources(ctx context.Context, client *http.Client, indexURL string) ([]SourceFile, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index page %s: %w", indexURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index page %s returned status %d", indexURL, resp.StatusCode)
	}

	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index url: %w", err)
	}

	return parseIndex(base, resp.Body)
}

// parseIndex scans the anchors of an index page for data file links
func parseIndex(base *url.URL, body io.Reader) ([]SourceFile, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	var files []SourceFile
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)

		filename := path.Base(resolved.Path)
		ext := strings.ToLower(path.Ext(filename))
		if ext != ".csv" && ext != ".txt" {
			return
		}

		full := resolved.String()
		if seen[full] {
			return
		}
		seen[full] = true

		files = append(files, SourceFile{
			URL:       full,
			Filename:  filename,
			Component: irradiance.DetectComponent(filename),
		})
	})

	return files, nil
}
