package playlists

import (
	"context"
	"fmt"
)

// Static hands out playlists created ahead of time, in the order given.
type Static struct {
	urls []string
}

// NewStatic returns a provider over urls, skipping blanks and duplicates.
func NewStatic(urls []string) *Static {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return &Static{urls: out}
}

// CreatePlaylists returns the first count playlists.
func (s *Static) CreatePlaylists(ctx context.Context, count int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count > len(s.urls) {
		return nil, fmt.Errorf("need %d playlists, only %d configured", count, len(s.urls))
	}
	return append([]string(nil), s.urls[:count]...), nil
}
