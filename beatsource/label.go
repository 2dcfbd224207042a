package beatsource

import (
	"context"
)

// LabelInfo combines two independent paginated fetches, the label's releases
// and its tracks. Either sub-fetch failing degrades that side to an empty
// list with the swallowed error logged; only the label record itself is
// required.
func (c *Client) LabelInfo(ctx context.Context, labelID string) (*LabelInfo, error) {
	meta, err := c.get(ctx, "catalog/labels/"+labelID, nil)
	if nil != err {
		return nil, err
	}

	trackRecords := NewEntityCache()
	info := &LabelInfo{
		ID:           labelID,
		Name:         meta.StrOr("name", ""),
		AlbumIDs:     nil,
		TrackIDs:     nil,
		TrackRecords: trackRecords,
	}

	releases, err := c.pagedResults(ctx, "catalog/labels/"+labelID+"/releases", defaultPageSize)
	if nil != err {
		if ctxErr := ctx.Err(); nil != ctxErr {
			return nil, ctxErr
		}
		c.logger.Warn().Err(err).Str("label_id", labelID).Msg("Failed to fetch label releases, continuing without them")
	}
	for _, release := range releases {
		if id, ok := release.ID(); ok {
			trackRecords.Put(release)
			info.AlbumIDs = append(info.AlbumIDs, id)
		}
	}

	tracks, err := c.pagedResults(ctx, "catalog/labels/"+labelID+"/tracks", defaultPageSize)
	if nil != err {
		if ctxErr := ctx.Err(); nil != ctxErr {
			return nil, ctxErr
		}
		c.logger.Warn().Err(err).Str("label_id", labelID).Msg("Failed to fetch label tracks, continuing without them")
	}
	for _, track := range tracks {
		if id, ok := track.ID(); ok {
			trackRecords.Put(track)
			info.TrackIDs = append(info.TrackIDs, id)
		}
	}

	return info, nil
}
