package beatsource

import (
	"context"

	"github.com/xeptore/bsdl/cache"
)

// releaseRecord resolves a raw release document, preferring the operation's
// entity cache, then the process-wide release memo, and only then the catalog.
func (c *Client) releaseRecord(ctx context.Context, releaseID string, entityCache EntityCache) (Record, error) {
	if entry, ok := entityCache.Lookup(releaseID); ok {
		return entry.Record, nil
	}

	item, err := c.releases.Fetch(releaseID, cache.DefaultReleaseTTL, func() (string, error) {
		rec, err := c.get(ctx, "catalog/releases/"+releaseID, nil)
		if nil != err {
			return "", err
		}
		return rec.Raw(), nil
	})
	if nil != err {
		return Record{}, err
	}
	return RecordFromBytes([]byte(item.Value()))
}

func (c *Client) AlbumInfo(ctx context.Context, albumID string, entityCache EntityCache) (*AlbumInfo, error) {
	albumRec, err := c.releaseRecord(ctx, albumID, entityCache)
	if nil != err {
		return nil, err
	}

	tracks, err := c.pagedResults(ctx, "catalog/releases/"+albumID+"/tracks", defaultPageSize)
	if nil != err {
		return nil, err
	}

	trackRecords := NewEntityCache()
	trackRecords.Put(albumRec)
	totalTracks := len(tracks)
	for i, track := range tracks {
		trackRecords.PutNumbered(track, i+1, totalTracks)
	}

	info := &AlbumInfo{
		ID:           albumID,
		Name:         albumRec.StrOr("name", ""),
		Artist:       "",
		ArtistID:     "",
		ReleaseYear:  "",
		Duration:     0,
		UPC:          albumRec.StrOr("upc", ""),
		CoverURL:     "",
		TrackIDs:     nil,
		TrackRecords: trackRecords,
	}
	info.ReleaseYear, _ = albumRec.Year("publish_date")
	if artists := albumRec.Array("artists"); len(artists) > 0 {
		info.Artist = artists[0].StrOr("name", "")
		info.ArtistID, _ = artists[0].ID()
	}
	if uri, ok := albumRec.Get("image").Str("dynamic_uri"); ok {
		info.CoverURL = GenerateArtworkURL(uri, c.coverSize)
	}

	for _, track := range tracks {
		id, ok := track.ID()
		if !ok {
			c.logger.Warn().Str("album_id", albumID).Msg("Skipping release track record without an id")
			continue
		}
		info.TrackIDs = append(info.TrackIDs, id)
		if lengthMS, ok := track.Int("length_ms"); ok {
			info.Duration += int(lengthMS / 1000)
		}
	}

	return info, nil
}
