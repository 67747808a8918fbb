package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.com"

const maxBodyBytes = 8 << 20

// ErrParse is returned when the registry answers with a body that is not a package document.
var ErrParse = errors.New("registry: unparsable response")

// Package is the subset of an npm version document the builder cares about.
type Package struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Keywords Keywords `json:"keywords"`
}

// Keywords holds a package's keywords. npm documents usually carry an array, but older
// packages publish a single string.
type Keywords struct {
	List []string
	Raw  string
}

// UnmarshalJSON accepts an array of strings, a plain string or null.
func (k *Keywords) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*k = Keywords{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = Keywords{Raw: s}
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	list := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			list = append(list, s)
		}
	}
	*k = Keywords{List: list}
	return nil
}

// MarshalJSON writes the keywords back in the shape they were read.
func (k Keywords) MarshalJSON() ([]byte, error) {
	if k.Raw != "" {
		return json.Marshal(k.Raw)
	}
	if k.List == nil {
		return []byte("null"), nil
	}
	return json.Marshal(k.List)
}

// Contains reports whether marker is among the keywords. A string form is searched as a substring.
func (k Keywords) Contains(marker string) bool {
	if k.Raw != "" {
		return strings.Contains(k.Raw, marker)
	}
	for _, kw := range k.List {
		if kw == marker {
			return true
		}
	}
	return false
}

// Client fetches version documents from an npm compatible registry.
type Client struct {
	base *url.URL
	http *http.Client
}

// New configures a Client for baseURL. A nil httpClient gets a 10s timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("registry url must be absolute: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: parsed, http: httpClient}, nil
}

// URL returns the document URL for name at version.
func (c *Client) URL(name, version string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + name + "/" + version
	u.RawPath = ""
	return u.String()
}

// Lookup fetches the version document for name at version. The HTTP status is not
// interpreted: a body that decodes into a package document is returned as is, well-formed
// JSON that is not an object yields an empty Package, and anything else yields an error
// wrapping ErrParse. Transport failures are returned unwrapped.
func (c *Client) Lookup(ctx context.Context, name, version string) (Package, error) {
	if c == nil {
		return Package{}, errors.New("nil registry client")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(name, version), nil)
	if err != nil {
		return Package{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Package{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Package{}, err
	}

	// npm answers unknown versions with a bare JSON string. Well-formed documents that are not
	// objects carry no package, so they decode as an empty one.
	if trimmed := bytes.TrimSpace(body); json.Valid(trimmed) && !bytes.HasPrefix(trimmed, []byte("{")) {
		return Package{}, nil
	}

	var pkg Package
	if err := json.Unmarshal(body, &pkg); err != nil {
		return Package{}, fmt.Errorf("%w from %s (status %d): %v", ErrParse, req.URL.Host+req.URL.Path, resp.StatusCode, err)
	}
	return pkg, nil
}
