package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/bsdl/beatsource"
	"github.com/xeptore/bsdl/cache"
	"github.com/xeptore/bsdl/config"
	"github.com/xeptore/bsdl/errutil"
	"github.com/xeptore/bsdl/must"
	"github.com/xeptore/bsdl/ratelimit"
	"github.com/xeptore/bsdl/waitqueue"
)

const (
	// Download URL resolutions are the endpoint the upstream rate-limits most
	// aggressively, so they all funnel through one paced queue.
	streamURLInterval = 10 * time.Second
	streamURLCapacity = 10
	streamURLGap      = 250 * time.Millisecond
)

type Downloader struct {
	client      *beatsource.Client
	baseDir     string
	tier        beatsource.Tier
	covers      *cache.Covers
	streamQueue *waitqueue.WaitQueue
	logger      zerolog.Logger
}

func New(ctx context.Context, client *beatsource.Client, baseDir string, tier beatsource.Tier, logger zerolog.Logger) *Downloader {
	return &Downloader{
		client:      client,
		baseDir:     baseDir,
		tier:        tier,
		covers:      cache.NewCovers(),
		streamQueue: waitqueue.New(ctx, streamURLInterval, streamURLCapacity, streamURLGap),
		logger:      logger,
	}
}

func (d *Downloader) Close() {
	d.streamQueue.Close()
}

// downloadTrack runs the whole per-track pipeline: normalize, resolve the
// file URL, write the audio file, its sidecar info, and the cover. Tracks the
// catalog reports as unavailable are skipped with a warning instead of
// failing their batch.
func (d *Downloader) downloadTrack(ctx context.Context, trackID, dir string, entityCache beatsource.EntityCache) error {
	info, err := d.client.TrackInfo(ctx, trackID, d.tier, entityCache)
	if nil != err {
		return err
	}
	if info.Error != "" {
		d.logger.Warn().Str("track_id", trackID).Str("reason", info.Error).Msg("Skipping unavailable track")
		return nil
	}

	var dl *beatsource.DownloadInfo
	if err := d.streamQueue.SendSingle(ctx, func() error {
		res, err := d.client.TrackDownload(ctx, trackID, d.tier)
		if nil != err {
			return err
		}
		dl = res
		return nil
	}); nil != err {
		return err
	}

	fileName := path.Join(dir, trackFileName(info))
	flawP := flaw.P{"file_name": fileName, "quality": dl.Quality}

	waitTime := ratelimit.TrackDownloadSleepMS()
	d.logger.Debug().Dur("wait_time", waitTime).Str("track_id", trackID).Msg("Waiting before starting track download")
	time.Sleep(waitTime)

	if err := d.saveTrackFile(ctx, dl.URL, path.Join(d.baseDir, fileName)); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		case errutil.IsFlaw(err):
			return must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}

	if err := d.writeInfo(info, path.Join(d.baseDir, fileName)); nil != err {
		return err
	}

	if info.CoverURL != "" {
		coverBytes, err := d.fetchCover(ctx, info.CoverURL)
		if nil != err {
			return err
		}
		if err := d.writeCover(path.Join(d.baseDir, fileName), coverBytes); nil != err {
			return err
		}
	}

	return nil
}

func trackFileName(info *beatsource.TrackInfo) string {
	artist := "Unknown Artist"
	if len(info.Artists) > 0 {
		artist = info.Artists[0]
	}
	ext := "m4a"
	if info.Format.Codec == "flac" {
		ext = "flac"
	}
	var fileName string
	if n := info.Tags.TrackNumber; n > 0 {
		fileName = fmt.Sprintf("%02d. %s - %s.%s", n, artist, info.Name, ext)
	} else {
		fileName = fmt.Sprintf("%s - %s.%s", artist, info.Name, ext)
	}
	return sanitizeFileName(fileName)
}

// sanitizeFileName strips path separators and characters that commonly break
// file names on either Linux or Windows mounts.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, name)
}

func (d *Downloader) saveTrackFile(ctx context.Context, fileURL, fileName string) (err error) {
	op := func() error {
		if err := d.downloadFile(ctx, fileURL, fileName, config.TrackDownloadTimeout); nil != err {
			switch {
			case errutil.IsContext(ctx):
				return backoff.Permanent(ctx.Err())
			case errors.Is(err, context.DeadlineExceeded):
				return context.DeadlineExceeded
			case errutil.IsFlaw(err):
				return backoff.Permanent(err)
			default:
				panic(errutil.UnknownError(err))
			}
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}

func (d *Downloader) downloadFile(ctx context.Context, fileURL, fileName string, timeout time.Duration) (err error) {
	flawP := flaw.P{"url": fileURL, "file_name": fileName}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create file download request: %v", err)).Append(flawP)
	}

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return flaw.From(fmt.Errorf("failed to send file download request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close file download response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context has ended")).Join(closeErr)
			case errors.Is(err, context.DeadlineExceeded):
				err = flaw.From(errors.New("timeout has reached")).Join(closeErr)
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			default:
				panic(errutil.UnknownError(err))
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	if code := resp.StatusCode; code != http.StatusOK {
		return flaw.From(fmt.Errorf("unexpected status code received from file download: %d", code)).Append(flawP)
	}

	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create track file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close track file: %v", closeErr)).Append(flawP)
			if nil != err {
				if errutil.IsFlaw(err) {
					err = must.BeFlaw(err).Join(closeErr)
				}
			} else {
				err = closeErr
			}
		}
	}()

	if _, err := io.Copy(f, resp.Body); nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return flaw.From(fmt.Errorf("failed to write track file: %v", err)).Append(flawP)
		}
	}

	if err := f.Sync(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to sync track file: %v", err)).Append(flawP)
	}

	return nil
}

func (d *Downloader) writeInfo(info *beatsource.TrackInfo, fileName string) (err error) {
	f, err := os.OpenFile(fileName+".json", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create track info file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close track info file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	if err := json.NewEncoder(f).Encode(info); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write track info: %v", err)).Append(flawP)
	}

	if err := f.Sync(); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to sync track info file: %v", err)).Append(flawP)
	}

	return nil
}

func (d *Downloader) fetchCover(ctx context.Context, coverURL string) ([]byte, error) {
	if b, ok := d.covers.Get(coverURL); ok {
		return b, nil
	}

	b, err := d.downloadCover(ctx, coverURL)
	if nil != err {
		return nil, err
	}
	d.covers.Set(coverURL, b)
	return b, nil
}

func (d *Downloader) downloadCover(ctx context.Context, coverURL string) (b []byte, err error) {
	flawP := flaw.P{"cover_url": coverURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to create get cover request: %v", err)).Append(flawP)
	}

	client := http.Client{Timeout: config.CoverDownloadTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to send get track cover request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close get track cover response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context has ended")).Join(closeErr)
			case errors.Is(err, context.DeadlineExceeded):
				err = flaw.From(errors.New("timeout has reached")).Join(closeErr)
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			default:
				panic(errutil.UnknownError(err))
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to read get track cover response body: %v", err)).Append(flawP)
		}
	}

	if code := resp.StatusCode; code != http.StatusOK {
		flawP["response_body"] = string(respBytes)
		return nil, flaw.From(fmt.Errorf("unexpected status code received from get track cover: %d", code)).Append(flawP)
	}

	return respBytes, nil
}

func (d *Downloader) writeCover(fileName string, b []byte) (err error) {
	f, err := os.OpenFile(fileName+".jpg", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create track cover file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close track cover file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	if _, err := f.Write(b); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write track cover: %v", err)).Append(flawP)
	}

	if err := f.Sync(); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to sync track cover file: %v", err)).Append(flawP)
	}

	return nil
}

func (d *Downloader) prepareDir(dir string, meta any) (err error) {
	absDir := path.Join(d.baseDir, dir)
	if err := os.MkdirAll(absDir, 0o0755); nil != err {
		flawP := flaw.P{"dir": absDir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create download directory: %v", err)).Append(flawP)
	}
	if nil == meta {
		return nil
	}

	f, err := os.OpenFile(path.Join(absDir, "info.json"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create collection info file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close collection info file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	if err := json.NewEncoder(f).Encode(meta); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write collection info: %v", err)).Append(flawP)
	}

	return nil
}
