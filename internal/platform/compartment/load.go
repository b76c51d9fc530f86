package compartment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxMapSize bounds the body read from a remote compartment map.
const maxMapSize = 10 * 1024 * 1024

// LoadFile reads a compartment map from a JSON file.
func LoadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open compartment map: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// LoadFromURL fetches a compartment map over HTTP(S) using client.
func LoadFromURL(ctx context.Context, client *http.Client, url string) (*Map, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build compartment map request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return Load(io.LimitReader(resp.Body, maxMapSize))
}

// Resolve loads the map named by location: the built-in table when location
// is empty, a remote document for http(s) URLs, and a local file otherwise.
func Resolve(ctx context.Context, client *http.Client, location string) (*Map, error) {
	switch {
	case location == "":
		return Default(), nil
	case strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"):
		return LoadFromURL(ctx, client, location)
	default:
		return LoadFile(location)
	}
}
