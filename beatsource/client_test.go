package beatsource_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/bsdl/beatsource"
)

// fakeAPI serves the auth flow plus whatever catalog handlers a test registers.
type fakeAPI struct {
	mux          *http.ServeMux
	subscription string
	refreshes    int
}

func newFakeAPI(subscription string) *fakeAPI {
	f := &fakeAPI{
		mux:          http.NewServeMux(),
		subscription: subscription,
		refreshes:    0,
	}

	f.mux.HandleFunc("POST /auth/login/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "fake-session", Path: "/"}) //nolint:exhaustruct
		fmt.Fprint(w, "{}")
	})
	f.mux.HandleFunc("GET /auth/o/authorize/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "bsapp://auth/callback?code=fake-code")
		w.WriteHeader(http.StatusFound)
	})
	f.mux.HandleFunc("POST /auth/o/token/", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("grant_type") == "refresh_token" {
			f.refreshes++
		}
		fmt.Fprint(w, `{"access_token": "fake-access", "refresh_token": "fake-refresh", "expires_in": 3600}`)
	})
	f.mux.HandleFunc("GET /auth/o/introspect", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"subscription": %q}`, f.subscription)
	})

	return f
}

func (f *fakeAPI) client(t *testing.T) *beatsource.Client {
	t.Helper()
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	opts := beatsource.Options{
		BaseURL:   srv.URL,
		Username:  "user@example.com",
		Password:  "hunter2",
		CredsDir:  t.TempDir(),
		CoverSize: 0,
	}
	c, err := beatsource.New(t.Context(), opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func trackJSON(id int, name string, lengthMS int) string {
	return fmt.Sprintf(`{"id": %d, "name": %q, "length_ms": %d, "is_available_for_streaming": true}`, id, name, lengthMS)
}

func pagedTracksHandler(total, perPage int, pages *[]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if pages != nil {
			*pages = append(*pages, page)
		}
		from := (page-1)*perPage + 1
		var items []string
		for id := from; id <= total && id < from+perPage; id++ {
			items = append(items, trackJSON(id, fmt.Sprintf("Track %d", id), 60000))
		}
		fmt.Fprintf(w, `{"count": %d, "results": [%s]}`, total, strings.Join(items, ","))
	}
}

func TestNewDetectsPlan(t *testing.T) {
	t.Parallel()

	pro := newFakeAPI("bp_link_pro").client(t)
	assert.Equal(t, beatsource.PlanPro, pro.Plan())

	basic := newFakeAPI("bp_basic").client(t)
	assert.Equal(t, beatsource.PlanBasic, basic.Plan())
}

func TestArtistInfoFetchesAllPages(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/artists/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 42, "name": "DJ Somebody"}`)
	})
	var pages []int
	api.mux.HandleFunc("GET /catalog/artists/42/tracks", pagedTracksHandler(250, 100, &pages))

	c := api.client(t)
	info, err := c.ArtistInfo(t.Context(), "42")
	require.NoError(t, err)

	assert.Equal(t, "DJ Somebody", info.Name)
	assert.Equal(t, []int{1, 2, 3}, pages)
	require.Len(t, info.TrackIDs, 250)
	assert.Equal(t, "1", info.TrackIDs[0])
	assert.Equal(t, "250", info.TrackIDs[249])
}

func TestPaginationTruncation(t *testing.T) {
	t.Parallel()

	registerArtistMeta := func(api *fakeAPI) {
		api.mux.HandleFunc("GET /catalog/artists/42", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id": 42, "name": "DJ Somebody"}`)
		})
	}
	shortTracksHandler := func(total, perPage int, itemsOnPage func(page int) int, pages *[]int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			*pages = append(*pages, page)
			from := (page-1)*perPage + 1
			var items []string
			for id := from; id < from+itemsOnPage(page); id++ {
				items = append(items, trackJSON(id, fmt.Sprintf("Track %d", id), 60000))
			}
			fmt.Fprintf(w, `{"count": %d, "results": [%s]}`, total, strings.Join(items, ","))
		}
	}

	t.Run("PageFailureReturnsPartialResults", func(t *testing.T) {
		t.Parallel()
		api := newFakeAPI("bp_basic")
		registerArtistMeta(api)
		var pages []int
		api.mux.HandleFunc("GET /catalog/artists/42/tracks", func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			pages = append(pages, page)
			if page == 2 {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"detail": "boom"}`)
				return
			}
			pagedTracksHandler(250, 100, nil)(w, r)
		})

		info, err := api.client(t).ArtistInfo(t.Context(), "42")
		require.NoError(t, err)
		require.Len(t, info.TrackIDs, 100)
		assert.Equal(t, []int{1, 2}, pages, "the loop must stop at the failing page")
	})

	t.Run("ShortPageStopsTheLoop", func(t *testing.T) {
		t.Parallel()
		api := newFakeAPI("bp_basic")
		registerArtistMeta(api)
		var pages []int
		itemsOnPage := func(page int) int {
			if page == 2 {
				return 40
			}
			return 100
		}
		api.mux.HandleFunc("GET /catalog/artists/42/tracks", shortTracksHandler(250, 100, itemsOnPage, &pages))

		info, err := api.client(t).ArtistInfo(t.Context(), "42")
		require.NoError(t, err)
		require.Len(t, info.TrackIDs, 140)
		assert.Equal(t, []int{1, 2}, pages, "a short page must end the loop before the expected count")
	})

	t.Run("EmptyPageStopsTheLoop", func(t *testing.T) {
		t.Parallel()
		api := newFakeAPI("bp_basic")
		registerArtistMeta(api)
		var pages []int
		itemsOnPage := func(page int) int {
			if page > 1 {
				return 0
			}
			return 100
		}
		api.mux.HandleFunc("GET /catalog/artists/42/tracks", shortTracksHandler(250, 100, itemsOnPage, &pages))

		info, err := api.client(t).ArtistInfo(t.Context(), "42")
		require.NoError(t, err)
		require.Len(t, info.TrackIDs, 100)
		assert.Equal(t, []int{1, 2}, pages)
	})
}

func TestPlaylistFallsBackToChart(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/playlists/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	api.mux.HandleFunc("GET /catalog/charts/9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 9, "name": "Weekly Chart", "change_date": "2024-06-01", "image": {"dynamic_uri": "https://img.example.com/{w}x{h}/c.jpg"}}`)
	})
	api.mux.HandleFunc("GET /catalog/charts/9/tracks", pagedTracksHandler(3, 100, nil))

	c := api.client(t)
	info, err := c.PlaylistInfo(t.Context(), "9")
	require.NoError(t, err)

	assert.Equal(t, "Weekly Chart", info.Name)
	assert.Equal(t, "Beatsource", info.Creator)
	assert.Equal(t, "2024", info.ReleaseYear)
	assert.Equal(t, "https://img.example.com/1400x1400/c.jpg", info.CoverURL)
	assert.Equal(t, []string{"1", "2", "3"}, info.TrackIDs)
	assert.Equal(t, 180, info.Duration)

	entry, ok := info.TrackRecords.Lookup("2")
	require.True(t, ok)
	assert.Equal(t, 2, entry.TrackNumber)
	assert.Equal(t, 3, entry.TotalTracks)
}

func TestPlaylistDoesNotFallBackOnOtherErrors(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/playlists/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail": "boom"}`)
	})
	chartHit := false
	api.mux.HandleFunc("GET /catalog/charts/9", func(w http.ResponseWriter, r *http.Request) {
		chartHit = true
	})

	c := api.client(t)
	_, err := c.PlaylistInfo(t.Context(), "9")
	require.Error(t, err)
	var statusErr *beatsource.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
	assert.False(t, chartHit, "a non-404 failure must not trigger the chart fallback")
}

func TestAlbumInfo(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/releases/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": 7, "name": "Night Drive", "upc": "0123456789012", "publish_date": "2023-11-10",
			"artists": [{"id": 42, "name": "DJ Somebody"}],
			"image": {"dynamic_uri": "https://img.example.com/{w}x{h}/a.jpg"}
		}`)
	})
	api.mux.HandleFunc("GET /catalog/releases/7/tracks", pagedTracksHandler(2, 100, nil))

	c := api.client(t)
	info, err := c.AlbumInfo(t.Context(), "7", nil)
	require.NoError(t, err)

	assert.Equal(t, "Night Drive", info.Name)
	assert.Equal(t, "DJ Somebody", info.Artist)
	assert.Equal(t, "42", info.ArtistID)
	assert.Equal(t, "2023", info.ReleaseYear)
	assert.Equal(t, "0123456789012", info.UPC)
	assert.Equal(t, []string{"1", "2"}, info.TrackIDs)
	assert.Equal(t, 120, info.Duration)

	entry, ok := info.TrackRecords.Lookup("1")
	require.True(t, ok)
	assert.Equal(t, 1, entry.TrackNumber)
	assert.Equal(t, 2, entry.TotalTracks)
}

func TestTrackDownloadQualityParam(t *testing.T) {
	t.Parallel()

	t.Run("BasicPlanForcesMedium", func(t *testing.T) {
		t.Parallel()
		api := newFakeAPI("bp_basic")
		api.mux.HandleFunc("GET /catalog/tracks/5/download", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "medium", r.URL.Query().Get("quality"))
			fmt.Fprint(w, `{"location": "https://files.example.com/5.m4a"}`)
		})

		dl, err := api.client(t).TrackDownload(t.Context(), "5", beatsource.TierLossless)
		require.NoError(t, err)
		assert.Equal(t, "https://files.example.com/5.m4a", dl.URL)
		assert.Equal(t, "medium", dl.Quality)
	})

	t.Run("ProPlanServesLossless", func(t *testing.T) {
		t.Parallel()
		api := newFakeAPI("bp_link_pro")
		api.mux.HandleFunc("GET /catalog/tracks/5/download", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "lossless", r.URL.Query().Get("quality"))
			fmt.Fprint(w, `{"location": "https://files.example.com/5.flac"}`)
		})

		dl, err := api.client(t).TrackDownload(t.Context(), "5", beatsource.TierLossless)
		require.NoError(t, err)
		assert.Equal(t, "lossless", dl.Quality)
	})

	t.Run("MissingLocation", func(t *testing.T) {
		t.Parallel()
		api := newFakeAPI("bp_basic")
		api.mux.HandleFunc("GET /catalog/tracks/5/download", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{}`)
		})

		_, err := api.client(t).TrackDownload(t.Context(), "5", beatsource.TierMedium)
		assert.ErrorIs(t, err, beatsource.ErrStreamUnavailable)
	})
}

func TestTrackInfo(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_link_pro")
	api.mux.HandleFunc("GET /catalog/tracks/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": 5, "name": "Midnight", "mix_name": "Extended Mix", "number": 3,
			"length_ms": 423000, "publish_date": "2024-03-08", "isrc": "USX9P2400001", "bpm": 126,
			"is_available_for_streaming": true,
			"genre": {"name": "House"}, "sub_genre": {"name": "Deep House"},
			"key": {"name": "A Minor"}, "catalog_number": "CAT001",
			"artists": [{"id": 42, "name": "DJ Somebody"}, {"id": 43, "name": "MC Other"}],
			"release": {"id": 7, "label": {"name": "Night Records"}, "image": {"dynamic_uri": "https://img.example.com/{w}x{h}/a.jpg"}}
		}`)
	})
	api.mux.HandleFunc("GET /catalog/releases/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 7, "name": "Night Drive", "upc": "0123456789012", "track_count": 12, "artists": [{"id": 42, "name": "DJ Somebody"}]}`)
	})

	c := api.client(t)
	info, err := c.TrackInfo(t.Context(), "5", beatsource.TierLossless, nil)
	require.NoError(t, err)

	assert.Empty(t, info.Error)
	assert.Equal(t, "Midnight (Extended Mix)", info.Name)
	assert.Equal(t, "Night Drive", info.Album)
	assert.Equal(t, "7", info.AlbumID)
	assert.Equal(t, []string{"DJ Somebody", "MC Other"}, info.Artists)
	assert.Equal(t, "42", info.ArtistID)
	assert.Equal(t, "2024", info.ReleaseYear)
	assert.Equal(t, 423, info.Duration)
	assert.Equal(t, "flac", info.Format.Codec)
	assert.Equal(t, "https://img.example.com/1400x1400/a.jpg", info.CoverURL)

	assert.Equal(t, "DJ Somebody", info.Tags.AlbumArtist)
	assert.Equal(t, 3, info.Tags.TrackNumber)
	assert.Equal(t, 12, info.Tags.TotalTracks)
	assert.Equal(t, "0123456789012", info.Tags.UPC)
	assert.Equal(t, "USX9P2400001", info.Tags.ISRC)
	assert.Equal(t, []string{"House", "Deep House"}, info.Tags.Genres)
	assert.Equal(t, "© 2024 Night Records", info.Tags.Copyright)
	assert.Equal(t, "Night Records", info.Tags.Label)
	assert.Equal(t, map[string]string{"BPM": "126", "Key": "A Minor", "Catalog number": "CAT001"}, info.Tags.ExtraTags)
}

func TestTrackInfoRegionLockedAlbum(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/tracks/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 5, "name": "Midnight", "is_available_for_streaming": true, "release": {"id": 7, "label": {"name": "Night Records"}}}`)
	})
	api.mux.HandleFunc("GET /catalog/releases/7", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"detail": "Territory Restricted."}`)
	})

	info, err := api.client(t).TrackInfo(t.Context(), "5", beatsource.TierMedium, nil)
	require.NoError(t, err)
	assert.Equal(t, "Album 7 is region locked", info.Error)
}

func TestTrackInfoNotStreamable(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/tracks/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 5, "name": "Midnight", "is_available_for_streaming": false, "release": {"id": 7}}`)
	})
	api.mux.HandleFunc("GET /catalog/releases/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 7}`)
	})

	info, err := api.client(t).TrackInfo(t.Context(), "5", beatsource.TierMedium, nil)
	require.NoError(t, err)
	assert.Contains(t, info.Error, "not streamable")
}

func TestGetRetriesOnceAfterTokenRejection(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	calls := 0
	api.mux.HandleFunc("GET /catalog/artists/42", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id": 42, "name": "DJ Somebody"}`)
	})
	api.mux.HandleFunc("GET /catalog/artists/42/tracks", pagedTracksHandler(1, 100, nil))

	c := api.client(t)
	info, err := c.ArtistInfo(t.Context(), "42")
	require.NoError(t, err)
	assert.Equal(t, "DJ Somebody", info.Name)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, api.refreshes)
}

func TestLabelInfoToleratesSubFetchFailures(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/labels/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 3, "name": "Night Records"}`)
	})
	api.mux.HandleFunc("GET /catalog/labels/3/releases", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	api.mux.HandleFunc("GET /catalog/labels/3/tracks", pagedTracksHandler(2, 100, nil))

	info, err := api.client(t).LabelInfo(t.Context(), "3")
	require.NoError(t, err)
	assert.Equal(t, "Night Records", info.Name)
	assert.Empty(t, info.AlbumIDs)
	assert.Equal(t, []string{"1", "2"}, info.TrackIDs)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "midnight", r.URL.Query().Get("q"))
		assert.Equal(t, "tracks", r.URL.Query().Get("type"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `{"tracks": [
			{"id": 5, "name": "Midnight", "mix_name": "Extended Mix", "publish_date": "2024-03-08",
			 "length_ms": 423000, "bpm": 126, "exclusive": true,
			 "artists": [{"name": "DJ Somebody"}]},
			{"id": 6, "name": "Midnight Sun", "artists": []}
		]}`)
	})

	results, err := api.client(t).Search(t.Context(), beatsource.KindTrack, "midnight", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "5", results[0].ID)
	assert.Equal(t, "Midnight (Extended Mix)", results[0].Name)
	assert.Equal(t, []string{"DJ Somebody"}, results[0].Artists)
	assert.Equal(t, "2024", results[0].Year)
	assert.Equal(t, 423, results[0].Duration)
	assert.Equal(t, []string{"126BPM", "Exclusive"}, results[0].Additional)

	assert.Equal(t, "Midnight Sun", results[1].Name)
	assert.Empty(t, results[1].Additional)
}

func TestSearchRejectsLabelQueries(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	_, err := api.client(t).Search(t.Context(), beatsource.KindLabel, "night", 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, beatsource.ErrNotFound))
}

func TestNotFoundIsTyped(t *testing.T) {
	t.Parallel()

	api := newFakeAPI("bp_basic")
	api.mux.HandleFunc("GET /catalog/artists/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := api.client(t).ArtistInfo(t.Context(), "404")
	assert.ErrorIs(t, err, beatsource.ErrNotFound)
}
