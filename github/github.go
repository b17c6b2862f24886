// Package github lists release packages of GitHub repositories and
// downloads them.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAPI = "https://api.github.com"

// Release is a GitHub release with its package assets.
type Release struct {
	Name        string  `json:"name"`
	TagName     string  `json:"tag_name"`
	PublishedAt string  `json:"published_at"`
	DebAssets   []Asset `json:"deb_assets"`
}

// Asset is a downloadable release file.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
}

type release struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	TagName     string  `json:"tag_name"`
	PublishedAt string  `json:"published_at"`
	Assets      []asset `json:"assets"`
}

type asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Client talks to the GitHub API and downloads release assets.
type Client struct {
	http *resty.Client
	api  string
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.SetTransport(rt) }
}

// WithAPI replaces the API root URL.
func WithAPI(base string) Option {
	return func(c *Client) { c.api = strings.TrimRight(base, "/") }
}

// New returns a Client. An empty token means anonymous requests.
func New(token, userAgent string, opts ...Option) *Client {
	client := resty.New().
		SetTimeout(5 * time.Minute).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	if token != "" {
		client.SetHeader("Authorization", "token "+token)
	}

	c := &Client{http: client, api: defaultAPI}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseRepoURL extracts owner and repository from a URL such as
// https://github.com/owner/repo.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing repository URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository URL %q", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Releases lists the releases of owner/repo that carry at least one .deb
// asset, keeping only those assets.
func (c *Client) Releases(ctx context.Context, owner, repo string) ([]Release, error) {
	var raw []release
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get(fmt.Sprintf("%s/repos/%s/%s/releases", c.api, owner, repo))
	if err != nil {
		return nil, fmt.Errorf("fetching releases: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GitHub API Error: %d", resp.StatusCode())
	}

	var out []Release
	for _, r := range raw {
		var debs []Asset
		for _, a := range r.Assets {
			if strings.HasSuffix(strings.ToLower(a.Name), ".deb") {
				debs = append(debs, Asset{Name: a.Name, DownloadURL: a.BrowserDownloadURL})
			}
		}
		if len(debs) > 0 {
			out = append(out, Release{Name: r.Name, TagName: r.TagName, PublishedAt: r.PublishedAt, DebAssets: debs})
		}
	}
	return out, nil
}

// FileName is the local name of the file behind rawURL: its last path
// segment.
func FileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// Download fetches rawURL into dest. The file appears at dest only once
// complete.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("downloading %s: status %d", rawURL, resp.StatusCode())
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
