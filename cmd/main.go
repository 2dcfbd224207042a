package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/matryer/try.v1"

	"github.com/xeptore/bsdl/beatsource"
	"github.com/xeptore/bsdl/config"
	"github.com/xeptore/bsdl/constant"
	"github.com/xeptore/bsdl/ctxutil"
	"github.com/xeptore/bsdl/download"
	"github.com/xeptore/bsdl/errutil"
	"github.com/xeptore/bsdl/log"
	"github.com/xeptore/bsdl/must"
)

const (
	flagConfigFilePath = "config"
	flagQuality        = "quality"
	flagSearchType     = "type"
	flagSearchLimit    = "limit"
)

// newLogger picks the packed JSON output when logs are being collected rather
// than read from a terminal.
func newLogger(level zerolog.Level) zerolog.Logger {
	if os.Getenv("LOG_JSON") != "" {
		return log.NewPacked(os.Stdout).Level(level)
	}
	return log.NewPretty(os.Stdout).Level(level)
}

func main() {
	logger := newLogger(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     "bsdl",
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Beatsource catalog downloader",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "download",
				Aliases:   []string{"d"},
				Usage:     "Download the tracks behind one or more Beatsource links",
				ArgsUsage: "LINK [LINK...]",
				Action:    runDownload,
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagConfigFilePath,
						Aliases:  []string{"c"},
						Usage:    "Config file path",
						Required: false,
					},
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagQuality,
						Aliases:  []string{"q"},
						Usage:    "Quality tier (medium, high, lossless)",
						Required: false,
					},
				},
			},
			//nolint:exhaustruct
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Search the Beatsource catalog",
				ArgsUsage: "QUERY",
				Action:    runSearch,
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagConfigFilePath,
						Aliases:  []string{"c"},
						Usage:    "Config file path",
						Required: false,
					},
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  flagSearchType,
						Usage: "Result type (track, album, playlist, artist)",
						Value: "track",
					},
					//nolint:exhaustruct
					&cli.IntFlag{
						Name:  flagSearchLimit,
						Usage: "Maximum number of results",
						Value: 20,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

func loadConfig(cliCtx *cli.Context, logger zerolog.Logger) (*config.Config, error) {
	cfgEnv := os.Getenv("CONFIG")
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return nil, errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return nil, errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		cfg, err := config.FromFile(cfgFilePath)
		if nil != err {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
		return cfg, nil
	default:
		logger.Debug().Msg("Loading config from environment variable")
		cfg, err := config.FromString(cfgEnv)
		if nil != err {
			return nil, fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		return cfg, nil
	}
}

func newClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*beatsource.Client, error) {
	username := os.Getenv("BEATSOURCE_USERNAME")
	password := os.Getenv("BEATSOURCE_PASSWORD")
	logger.Debug().Str("username", log.RedactString(username)).Msg("Using Beatsource account credentials from environment")

	if _, err := os.ReadDir(cfg.CredsDir); nil != err && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read credentials directory: %v", err)
	} else if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Msg("Credentials directory does not exist. Creating...")
		if err := os.MkdirAll(cfg.CredsDir, 0o0755); nil != err {
			return nil, fmt.Errorf("failed to create credentials directory: %v", err)
		}
	}

	opts := beatsource.Options{
		BaseURL:   "",
		Username:  username,
		Password:  password,
		CredsDir:  cfg.CredsDir,
		CoverSize: cfg.CoverSize,
	}
	return beatsource.New(ctx, opts, logger.With().Str("module", "beatsource").Logger())
}

func runDownload(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(zerolog.TraceLevel)
	defer func() {
		if r := recover(); nil != r {
			logger.Error().Func(log.Panic(r)).Msg("Unexpected panic")
			panic(r)
		}
	}()
	if cliCtx.NArg() == 0 {
		return errors.New("at least one link argument is required")
	}

	cfg, err := loadConfig(cliCtx, logger)
	if nil != err {
		return err
	}

	quality := cfg.Quality
	if q := cliCtx.String(flagQuality); q != "" {
		quality = q
	}
	tier, err := beatsource.ParseTier(quality)
	if nil != err {
		return err
	}

	if err := os.MkdirAll(cfg.DownloadBaseDir, 0o0755); nil != err {
		return fmt.Errorf("failed to create download base directory: %v", err)
	}

	// Client operations run on a context that survives an interrupt for a
	// short grace period so a refreshed session still gets persisted.
	clientCtx, cancelClient := ctxutil.WithDelayedTimeout(ctx, config.SessionPersistGracePeriod)
	defer cancelClient()

	client, err := newClient(clientCtx, cfg, logger)
	if nil != err {
		return err
	}

	d := download.New(ctx, client, cfg.DownloadBaseDir, tier, logger.With().Str("module", "download").Logger())
	defer d.Close()

	for _, link := range cliCtx.Args().Slice() {
		if err := downloadLink(ctx, d, logger, link); nil != err {
			if errutil.IsFlaw(err) {
				writeFlawReport(logger, cfg.DownloadBaseDir, must.BeFlaw(err))
			}
			return err
		}
		logger.Info().Str("link", link).Msg("Link finished")
	}

	return nil
}

// writeFlawReport dumps the full flaw payload next to the downloads, where the
// terminal log line alone would be too shallow to diagnose from.
func writeFlawReport(logger zerolog.Logger, dir string, flawErr *flaw.Flaw) {
	flawBytes, err := errutil.FlawToYAML(flawErr)
	if nil != err {
		logger.Error().Func(log.Flaw(err)).Msg("Failed to convert flaw to YAML")
		return
	}
	reportPath := filepath.Join(dir, fmt.Sprintf("flaw-%s.yaml", time.Now().Format("2006-01-02-15-04-05")))
	if err := os.WriteFile(reportPath, flawBytes, 0o0644); nil != err {
		logger.Error().Err(err).Str("path", reportPath).Msg("Failed to write failure report")
		return
	}
	logger.Info().Str("path", reportPath).Msg("Failure report written")
}

func downloadLink(ctx context.Context, d *download.Downloader, logger zerolog.Logger, link string) error {
	kind, id, err := beatsource.ParseLink(link)
	if nil != err {
		return err
	}
	flawP := flaw.P{"link": link, "id": id, "kind": kind.String()}
	logger.Info().Str("id", id).Str("kind", kind.String()).Str("link", link).Msg("Starting download")

	return try.Do(func(attempt int) (retry bool, err error) {
		const maxAttempts = 3
		attemptRemained := attempt < maxAttempts
		time.Sleep(time.Duration(attempt-1) * 3 * time.Second)

		switch kind {
		case beatsource.KindTrack:
			err = d.Track(ctx, id)
		case beatsource.KindAlbum:
			err = d.Album(ctx, id)
		case beatsource.KindPlaylist:
			err = d.Playlist(ctx, id)
		case beatsource.KindArtist:
			err = d.Artist(ctx, id)
		case beatsource.KindLabel:
			err = d.Label(ctx, id)
		default:
			panic("unsupported link kind to download: " + kind.String())
		}
		if nil != err {
			if sentinel, ok := errutil.IsAny(err, beatsource.ErrNotFound, beatsource.ErrRegionLocked); ok {
				return false, fmt.Errorf("cannot download %s %s: %v", kind, id, sentinel)
			}
			switch {
			case errutil.IsContext(ctx):
				return false, err
			case errors.Is(err, context.DeadlineExceeded):
				return attemptRemained, context.DeadlineExceeded
			case errors.Is(err, beatsource.ErrStreamUnavailable):
				return attemptRemained, err
			case errutil.IsFlaw(err):
				return false, must.BeFlaw(err).Append(flawP)
			default:
				return false, err
			}
		}
		return false, nil
	})
}

func runSearch(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(zerolog.InfoLevel)
	query := strings.TrimSpace(strings.Join(cliCtx.Args().Slice(), " "))
	if query == "" {
		return errors.New("a search query argument is required")
	}

	var kind beatsource.Kind
	switch t := cliCtx.String(flagSearchType); t {
	case "track":
		kind = beatsource.KindTrack
	case "album":
		kind = beatsource.KindAlbum
	case "playlist":
		kind = beatsource.KindPlaylist
	case "artist":
		kind = beatsource.KindArtist
	default:
		return fmt.Errorf("unsupported search type %q", t)
	}

	cfg, err := loadConfig(cliCtx, logger)
	if nil != err {
		return err
	}

	client, err := newClient(ctx, cfg, logger)
	if nil != err {
		return err
	}

	results, err := client.Search(ctx, kind, query, cliCtx.Int(flagSearchLimit))
	if nil != err {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, r := range results {
		fmt.Println(formatSearchResult(i+1, r))
	}
	return nil
}

func formatSearchResult(rank int, r beatsource.SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%2d. [%s] %s", rank, r.ID, r.Name)
	if len(r.Artists) > 0 {
		fmt.Fprintf(&sb, " - %s", strings.Join(r.Artists, ", "))
	}
	if r.Year != "" {
		fmt.Fprintf(&sb, " (%s)", r.Year)
	}
	if r.Duration > 0 {
		fmt.Fprintf(&sb, " [%d:%02d]", r.Duration/60, r.Duration%60)
	}
	if len(r.Additional) > 0 {
		fmt.Fprintf(&sb, " {%s}", strings.Join(r.Additional, ", "))
	}
	return sb.String()
}
