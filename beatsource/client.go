package beatsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/bsdl/beatsource/auth"
	"github.com/xeptore/bsdl/cache"
	"github.com/xeptore/bsdl/config"
	"github.com/xeptore/bsdl/errutil"
	"github.com/xeptore/bsdl/httputil"
	"github.com/xeptore/bsdl/must"
)

const (
	defaultPageSize = 100

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
)

type Client struct {
	baseURL   string
	auth      *auth.Auth
	plan      Plan
	coverSize int
	releases  *cache.Releases
	logger    zerolog.Logger
}

type Options struct {
	BaseURL   string
	Username  string
	Password  string
	CredsDir  string
	CoverSize int
}

// New builds a client and drives the session lifecycle to a usable state:
// restore or establish a session, then validate the subscription, which also
// fixes the quality plan for the client's lifetime.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = auth.DefaultBaseURL
	}
	coverSize := opts.CoverSize
	if coverSize <= 0 {
		coverSize = MaxArtworkSize
	}

	a := auth.New(baseURL, opts.Username, opts.Password, opts.CredsDir, logger.With().Str("module", "auth").Logger())
	if err := a.Load(ctx); nil != err {
		return nil, err
	}

	c := &Client{
		baseURL:   baseURL,
		auth:      a,
		plan:      PlanBasic,
		coverSize: coverSize,
		releases:  cache.NewReleases(),
		logger:    logger,
	}

	subscription, err := a.Subscription(ctx)
	if nil != err {
		return nil, err
	}
	c.plan = ClassifyPlan(subscription)
	if c.plan == PlanPro {
		logger.Info().Str("subscription", subscription).Msg("Professional subscription detected, allowing high and lossless quality")
	}

	return c, nil
}

func (c *Client) Plan() Plan {
	return c.plan
}

// get issues one authorized catalog GET. A 401 triggers a single forced
// refresh (falling back to re-login inside the auth manager) and one retry.
// The rejected token is handed to the auth manager so that concurrent 401s
// refresh the session once, not once per caller.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (Record, error) {
	accessToken, err := c.auth.AccessToken(ctx)
	if nil != err {
		return Record{}, err
	}

	rec, err := c.getOnce(ctx, endpoint, params, accessToken)
	if nil != err {
		if errors.Is(err, auth.ErrUnauthorized) {
			c.logger.Debug().Str("endpoint", endpoint).Msg("Access token was rejected, refreshing and retrying once")
			if err := c.auth.ForceRefresh(ctx, accessToken); nil != err {
				return Record{}, err
			}
			accessToken, err := c.auth.AccessToken(ctx)
			if nil != err {
				return Record{}, err
			}
			return c.getOnce(ctx, endpoint, params, accessToken)
		}
		return Record{}, err
	}
	return rec, nil
}

func (c *Client) getOnce(ctx context.Context, endpoint string, params url.Values, accessToken string) (rec Record, err error) {
	reqURL, err := url.JoinPath(c.baseURL, endpoint)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return Record{}, flaw.From(fmt.Errorf("failed to create catalog URL: %v", err)).Append(flawP)
	}
	flawP := flaw.P{"url": reqURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return Record{}, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return Record{}, flaw.From(fmt.Errorf("failed to create catalog request: %v", err)).Append(flawP)
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
		flawP["request_params"] = params.Encode()
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)
	req.Header.Add("User-Agent", userAgent)

	client := http.Client{Timeout: config.CatalogRequestTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return Record{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return Record{}, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return Record{}, flaw.From(fmt.Errorf("failed to issue catalog request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch code := resp.StatusCode; code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusUnauthorized:
		return Record{}, auth.ErrUnauthorized
	case http.StatusForbidden:
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return Record{}, err
		}
		if httputil.IsTerritoryRestrictedResponse(respBytes) {
			return Record{}, ErrRegionLocked
		}
		return Record{}, &StatusError{Status: code, Body: string(respBytes)}
	case http.StatusNotFound:
		return Record{}, ErrNotFound
	default:
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return Record{}, err
		}
		return Record{}, &StatusError{Status: code, Body: string(respBytes)}
	}

	respBytes, err := httputil.ReadResponseBody(ctx, resp)
	if nil != err {
		return Record{}, err
	}
	rec, err = RecordFromBytes(respBytes)
	if nil != err {
		return Record{}, must.BeFlaw(err).Append(flawP)
	}
	return rec, nil
}

func pageParams(page, perPage int) url.Values {
	params := make(url.Values, 2)
	params.Add("page", fmt.Sprint(page))
	params.Add("per_page", fmt.Sprint(perPage))
	return params
}

func qualityParams(quality string) url.Values {
	params := make(url.Values, 1)
	params.Add("quality", quality)
	return params
}
