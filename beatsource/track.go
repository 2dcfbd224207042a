package beatsource

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/xeptore/bsdl/sliceutil"
)

func (c *Client) trackRecord(ctx context.Context, trackID string, entityCache EntityCache) (Entry, error) {
	if entry, ok := entityCache.Lookup(trackID); ok {
		return entry, nil
	}
	rec, err := c.get(ctx, "catalog/tracks/"+trackID, nil)
	if nil != err {
		return Entry{}, err
	}
	return Entry{Record: rec, TrackNumber: 0, TotalTracks: 0}, nil
}

// TrackInfo builds the full normalized view of one track. Per-track problems
// that should not abort a batch, a region-locked album, a preorder, or a track
// the account cannot stream, surface as the soft Error field instead of a
// returned error.
func (c *Client) TrackInfo(ctx context.Context, trackID string, tier Tier, entityCache EntityCache) (*TrackInfo, error) {
	entry, err := c.trackRecord(ctx, trackID, entityCache)
	if nil != err {
		return nil, err
	}
	track := entry.Record

	var softErr string
	albumID, _ := track.Get("release").ID()
	var album Record
	if albumID != "" {
		album, err = c.releaseRecord(ctx, albumID, entityCache)
		if nil != err {
			if !errors.Is(err, ErrRegionLocked) {
				return nil, err
			}
			softErr = fmt.Sprintf("Album %s is region locked", albumID)
		}
	}

	name := track.StrOr("name", "")
	if mixName, ok := track.Str("mix_name"); ok && mixName != "" {
		name += " (" + mixName + ")"
	}

	var genres []string
	if genre, ok := track.Get("genre").Str("name"); ok {
		genres = append(genres, genre)
	}
	if subGenre, ok := track.Get("sub_genre").Str("name"); ok {
		genres = append(genres, subGenre)
	}

	extraTags := make(map[string]string)
	if bpm, ok := track.Int("bpm"); ok && bpm != 0 {
		extraTags["BPM"] = strconv.FormatInt(bpm, 10)
	}
	if key, ok := track.Get("key").Str("name"); ok {
		extraTags["Key"] = key
	}
	if catalogNumber, ok := track.Str("catalog_number"); ok && catalogNumber != "" {
		extraTags["Catalog number"] = catalogNumber
	}

	releaseYear, _ := track.Year("publish_date")
	label := track.Get("release").Get("label").StrOr("name", "")

	trackNumber := entry.TrackNumber
	if trackNumber == 0 {
		if n, ok := track.Int("number"); ok {
			trackNumber = int(n)
		}
	}
	totalTracks := entry.TotalTracks
	if totalTracks == 0 {
		if n, ok := album.Int("track_count"); ok {
			totalTracks = int(n)
		}
	}

	tags := Tags{
		AlbumArtist: "",
		TrackNumber: trackNumber,
		TotalTracks: totalTracks,
		UPC:         album.StrOr("upc", ""),
		ISRC:        track.StrOr("isrc", ""),
		Genres:      genres,
		ReleaseDate: track.StrOr("publish_date", ""),
		Copyright:   fmt.Sprintf("© %s %s", releaseYear, label),
		Label:       label,
		ExtraTags:   extraTags,
	}
	if albumArtists := album.Array("artists"); len(albumArtists) > 0 {
		tags.AlbumArtist = albumArtists[0].StrOr("name", "")
	}

	if !track.Bool("is_available_for_streaming") {
		softErr = fmt.Sprintf("Track %q is not streamable!", track.StrOr("name", trackID))
	} else if track.Bool("preorder") {
		softErr = fmt.Sprintf("Track %q is not yet released!", track.StrOr("name", trackID))
	}

	info := &TrackInfo{
		ID:          trackID,
		Name:        name,
		Album:       album.StrOr("name", ""),
		AlbumID:     albumID,
		Artists:     nil,
		ArtistID:    "",
		ReleaseYear: releaseYear,
		Duration:    0,
		Format:      ResolveFormat(c.plan, tier),
		CoverURL:    "",
		Tags:        tags,
		Error:       softErr,
	}
	if artists := track.Array("artists"); len(artists) > 0 {
		info.Artists = sliceutil.Map(artists, func(artist Record) string { return artist.StrOr("name", "") })
		info.ArtistID, _ = artists[0].ID()
	}
	if lengthMS, ok := track.Int("length_ms"); ok {
		info.Duration = int(lengthMS / 1000)
	}
	if uri, ok := track.Get("release").Get("image").Str("dynamic_uri"); ok {
		info.CoverURL = GenerateArtworkURL(uri, c.coverSize)
	}

	return info, nil
}

func (c *Client) TrackCover(ctx context.Context, trackID string, size int, entityCache EntityCache) (*CoverInfo, error) {
	entry, err := c.trackRecord(ctx, trackID, entityCache)
	if nil != err {
		return nil, err
	}
	uri, ok := entry.Record.Get("release").Get("image").Str("dynamic_uri")
	if !ok {
		return nil, ErrStreamUnavailable
	}
	return &CoverInfo{URL: GenerateArtworkURL(uri, size), FileType: "jpg"}, nil
}

// TrackDownload resolves the time-limited file URL for a track at the quality
// the account's plan permits for the requested tier. A response without a
// location is ErrStreamUnavailable.
func (c *Client) TrackDownload(ctx context.Context, trackID string, tier Tier) (*DownloadInfo, error) {
	quality := c.plan.QualityParam(tier)
	rec, err := c.get(ctx, "catalog/tracks/"+trackID+"/download", qualityParams(quality))
	if nil != err {
		return nil, err
	}
	location, ok := rec.Str("location")
	if !ok || location == "" {
		return nil, ErrStreamUnavailable
	}
	return &DownloadInfo{TrackID: trackID, Quality: quality, URL: location}, nil
}

// TrackStream resolves the low-bitrate HLS preview stream, which is served
// regardless of plan.
func (c *Client) TrackStream(ctx context.Context, trackID string) (*DownloadInfo, error) {
	rec, err := c.get(ctx, "catalog/tracks/"+trackID+"/stream", nil)
	if nil != err {
		return nil, err
	}
	location, ok := rec.Str("stream_url")
	if !ok || location == "" {
		location, ok = rec.Str("location")
		if !ok || location == "" {
			return nil, ErrStreamUnavailable
		}
	}
	return &DownloadInfo{TrackID: trackID, Quality: "preview", URL: location}, nil
}
