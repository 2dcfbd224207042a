package download

import (
	"context"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/xeptore/bsdl/ratelimit"
)

func (d *Downloader) Playlist(ctx context.Context, id string) error {
	info, err := d.client.PlaylistInfo(ctx, id)
	if nil != err {
		return err
	}

	dir := path.Join("playlists", sanitizeFileName(info.Name))
	if err := d.prepareDir(dir, info); nil != err {
		return err
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(ratelimit.PlaylistDownloadConcurrency)
	for _, trackID := range info.TrackIDs {
		wg.Go(func() error {
			return d.downloadTrack(ctx, trackID, dir, info.TrackRecords)
		})
	}
	return wg.Wait()
}
