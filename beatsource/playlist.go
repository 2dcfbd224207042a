package beatsource

import (
	"context"
	"errors"

	"github.com/samber/lo"
)

// PlaylistInfo fetches a playlist or chart by id. A playlist id that the
// playlist endpoint answers with 404 is retried exactly once against the
// chart endpoint, which serves the same logical object in a different shape;
// any other failure propagates immediately and no further endpoint guessing
// happens.
func (c *Client) PlaylistInfo(ctx context.Context, playlistID string) (*PlaylistInfo, error) {
	meta, err := c.get(ctx, "catalog/playlists/"+playlistID, nil)
	isChart := false
	if nil != err {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		c.logger.Warn().Str("playlist_id", playlistID).Msg("Fetching as playlist failed with 404, trying chart endpoint")
		meta, err = c.get(ctx, "catalog/charts/"+playlistID, nil)
		if nil != err {
			return nil, err
		}
		isChart = true
	}

	var tracks []Record
	if isChart {
		// Chart items are the track records directly.
		items, err := c.pagedResults(ctx, "catalog/charts/"+playlistID+"/tracks", defaultPageSize)
		if nil != err {
			return nil, err
		}
		tracks = items
	} else {
		// Playlist items wrap the track under a "track" field; entries with a
		// missing or null track are dropped.
		items, err := c.pagedResults(ctx, "catalog/playlists/"+playlistID+"/tracks", defaultPageSize)
		if nil != err {
			return nil, err
		}
		tracks = lo.FilterMap(items, func(item Record, _ int) (Record, bool) {
			track := item.Get("track")
			return track, track.Exists()
		})
	}

	entityCache := NewEntityCache()
	totalTracks := len(tracks)
	for i, track := range tracks {
		if _, ok := track.ID(); !ok {
			c.logger.Warn().Str("playlist_id", playlistID).Int("index", i).Msg("Skipping track record without an id")
			continue
		}
		entityCache.PutNumbered(track, i+1, totalTracks)
	}

	info := &PlaylistInfo{
		ID:           playlistID,
		Name:         meta.StrOr("name", ""),
		Creator:      "",
		ReleaseYear:  "",
		Duration:     0,
		CoverURL:     "",
		TrackIDs:     nil,
		TrackRecords: entityCache,
	}

	var coverURLRaw string
	if isChart {
		info.Creator = meta.Get("person").StrOr("owner_name", "Beatsource")
		info.ReleaseYear, _ = meta.Year("change_date")
		coverURLRaw, _ = meta.Get("image").Str("dynamic_uri")
	} else {
		info.Creator = "User"
		info.ReleaseYear, _ = meta.Year("updated_date")
		if images := meta.Array("release_images"); len(images) > 0 {
			// Either an object carrying a dynamic_uri or a bare URL string.
			if uri, ok := images[0].Str("dynamic_uri"); ok {
				coverURLRaw = uri
			} else if uri, ok := images[0].AsStr(); ok {
				coverURLRaw = uri
			}
		}
	}
	if coverURLRaw != "" {
		info.CoverURL = GenerateArtworkURL(coverURLRaw, c.coverSize)
	} else {
		c.logger.Warn().Str("playlist_id", playlistID).Msg("No cover image found for playlist")
	}

	// Duration and the track-id list only consider tracks carrying both a
	// valid id and a length; the rest were already logged above or lack a
	// usable length.
	for _, track := range tracks {
		id, ok := track.ID()
		if !ok {
			continue
		}
		lengthMS, ok := track.Int("length_ms")
		if !ok {
			c.logger.Warn().Str("playlist_id", playlistID).Str("track_id", id).Msg("Excluding track without length from playlist totals")
			continue
		}
		info.TrackIDs = append(info.TrackIDs, id)
		info.Duration += int(lengthMS / 1000)
	}

	return info, nil
}
