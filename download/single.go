package download

import (
	"context"
	"path"
)

func (d *Downloader) Track(ctx context.Context, id string) error {
	dir := path.Join("tracks")
	if err := d.prepareDir(dir, nil); nil != err {
		return err
	}
	return d.downloadTrack(ctx, id, dir, nil)
}
