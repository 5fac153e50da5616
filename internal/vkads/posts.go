package vkads

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// PostFactory publishes dark posts in the artist's community. It satisfies
// campaign.PostCreator.
type PostFactory struct {
	client  *Client
	groupID int
}

// Posts returns a PostFactory publishing in community groupID.
func (c *Client) Posts(groupID int) *PostFactory {
	return &PostFactory{client: c, groupID: groupID}
}

// CreateDarkPosts publishes one unsigned stealth post per playlist, in order.
// Any failure aborts the batch.
func (f *PostFactory) CreateDarkPosts(ctx context.Context, playlists []string, text string) ([]models.DarkPost, error) {
	out := make([]models.DarkPost, 0, len(playlists))
	for _, playlist := range playlists {
		ref, err := PlaylistRef(playlist)
		if err != nil {
			return nil, err
		}
		if err := f.client.create.Wait(ctx); err != nil {
			return nil, err
		}

		p := url.Values{}
		p.Set("owner_id", "-"+strconv.Itoa(f.groupID))
		p.Set("message", text)
		p.Set("attachments", "audio_playlist"+ref)
		p.Set("signed", "0")
		var resp struct {
			PostID int `json:"post_id"`
		}
		if err := f.client.call(ctx, "wall.postAdsStealth", p, &resp); err != nil {
			return nil, err
		}
		out = append(out, models.DarkPost{
			URL:         fmt.Sprintf("https://vk.com/wall-%d_%d", f.groupID, resp.PostID),
			PlaylistURL: playlist,
		})
	}
	return out, nil
}

// PlaylistRef extracts the owner_id_playlist_id reference from a playlist
// URL such as https://vk.com/music/playlist/-123_45.
func PlaylistRef(playlistURL string) (string, error) {
	u, err := url.Parse(playlistURL)
	if err != nil {
		return "", fmt.Errorf("parse playlist url %q: %w", playlistURL, err)
	}
	ref := path.Base(strings.TrimRight(u.Path, "/"))
	if owner, id, ok := strings.Cut(ref, "_"); !ok || owner == "" || id == "" {
		return "", fmt.Errorf("playlist url %q has no owner_id reference", playlistURL)
	}
	return ref, nil
}
