package download

import (
	"context"
	"path"

	"golang.org/x/sync/errgroup"

	"github.com/xeptore/bsdl/ratelimit"
)

// Label downloads every release of a label, then the label's loose tracks
// that did not come in through one of those releases.
func (d *Downloader) Label(ctx context.Context, id string) error {
	info, err := d.client.LabelInfo(ctx, id)
	if nil != err {
		return err
	}

	dir := path.Join("labels", sanitizeFileName(info.Name))
	if err := d.prepareDir(dir, info); nil != err {
		return err
	}

	for _, albumID := range info.AlbumIDs {
		if err := d.Album(ctx, albumID); nil != err {
			return err
		}
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(ratelimit.LabelDownloadConcurrency)
	for _, trackID := range info.TrackIDs {
		wg.Go(func() error {
			return d.downloadTrack(ctx, trackID, dir, info.TrackRecords)
		})
	}
	return wg.Wait()
}
