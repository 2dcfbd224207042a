package download

import (
	"context"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/xeptore/bsdl/ratelimit"
)

func (d *Downloader) Artist(ctx context.Context, id string) error {
	info, err := d.client.ArtistInfo(ctx, id)
	if nil != err {
		return err
	}

	dir := path.Join("artists", sanitizeFileName(info.Name))
	if err := d.prepareDir(dir, info); nil != err {
		return err
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(ratelimit.ReleaseDownloadConcurrency)
	for _, trackID := range info.TrackIDs {
		wg.Go(func() error {
			return d.downloadTrack(ctx, trackID, dir, info.TrackRecords)
		})
	}
	return wg.Wait()
}
