package beatsource

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/xeptore/bsdl/sliceutil"
)

// searchType maps a link kind to the catalog search type parameter. Playlist
// searches go against charts, the only curated collection kind the search
// endpoint indexes.
func searchType(kind Kind) (string, error) {
	switch kind {
	case KindTrack:
		return "tracks", nil
	case KindAlbum:
		return "releases", nil
	case KindPlaylist:
		return "charts", nil
	case KindArtist:
		return "artists", nil
	default:
		return "", fmt.Errorf("search does not support %s queries", kind)
	}
}

func (c *Client) Search(ctx context.Context, kind Kind, query string, limit int) ([]SearchResult, error) {
	st, err := searchType(kind)
	if nil != err {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", st)
	params.Set("per_page", strconv.Itoa(limit))
	rec, err := c.get(ctx, "catalog/search", params)
	if nil != err {
		return nil, err
	}

	var out []SearchResult
	for _, item := range rec.Array(st) {
		id, ok := item.ID()
		if !ok {
			continue
		}

		name := item.StrOr("name", "")
		if mixName, ok := item.Str("mix_name"); ok && mixName != "" {
			name += " (" + mixName + ")"
		}

		result := SearchResult{
			ID:         id,
			Name:       name,
			Artists:    nil,
			Year:       "",
			Duration:   0,
			Additional: nil,
			Record:     item,
		}
		switch kind {
		case KindPlaylist:
			result.Artists = []string{item.Get("person").StrOr("owner_name", "Beatsource")}
			result.Year, _ = item.Year("change_date")
		case KindTrack:
			result.Artists = sliceutil.Map(item.Array("artists"), func(artist Record) string { return artist.StrOr("name", "") })
			result.Year, _ = item.Year("publish_date")
			if lengthMS, ok := item.Int("length_ms"); ok {
				result.Duration = int(lengthMS / 1000)
			}
			if bpm, ok := item.Int("bpm"); ok && bpm != 0 {
				result.Additional = append(result.Additional, strconv.FormatInt(bpm, 10)+"BPM")
			}
		case KindAlbum:
			result.Artists = sliceutil.Map(item.Array("artists"), func(artist Record) string { return artist.StrOr("name", "") })
			result.Year, _ = item.Year("publish_date")
		case KindArtist:
		}
		if item.Bool("exclusive") {
			result.Additional = append(result.Additional, "Exclusive")
		}

		out = append(out, result)
	}

	return out, nil
}
