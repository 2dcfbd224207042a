package beatsource

import (
	"context"
)

func (c *Client) ArtistInfo(ctx context.Context, artistID string) (*ArtistInfo, error) {
	meta, err := c.get(ctx, "catalog/artists/"+artistID, nil)
	if nil != err {
		return nil, err
	}

	tracks, err := c.pagedResults(ctx, "catalog/artists/"+artistID+"/tracks", defaultPageSize)
	if nil != err {
		return nil, err
	}

	trackRecords := NewEntityCache()
	info := &ArtistInfo{
		ID:           artistID,
		Name:         meta.StrOr("name", ""),
		TrackIDs:     nil,
		TrackRecords: trackRecords,
	}
	for _, track := range tracks {
		id, ok := track.ID()
		if !ok {
			c.logger.Warn().Str("artist_id", artistID).Msg("Skipping artist track record without an id")
			continue
		}
		trackRecords.Put(track)
		info.TrackIDs = append(info.TrackIDs, id)
	}

	return info, nil
}
