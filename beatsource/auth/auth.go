package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/bsdl/beatsource/fs"
	"github.com/xeptore/bsdl/config"
	"github.com/xeptore/bsdl/errutil"
	"github.com/xeptore/bsdl/httputil"
	"github.com/xeptore/bsdl/log"
	"github.com/xeptore/bsdl/must"
	"github.com/xeptore/bsdl/ptr"
)

const (
	clientID        = "ryZ8LuyQVPqbK2mBX2Hwt4qSMtnWuTYSqBPO92yQ"
	DefaultBaseURL  = "https://api.beatsource.com/v4"
	sessionFileName = "session.json"
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
	sessionCookie   = "sessionid"
)

var (
	ErrUnauthorized       = errors.New("Unauthorized")
	ErrCredentialsMissing = errors.New("username and password are missing")
	ErrNoSubscription     = errors.New("account has no active subscription")
)

// AuthenticationError covers rejected logins and failed token exchanges.
type AuthenticationError struct {
	Detail string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Detail
}

// ProtocolError covers responses the authorize flow cannot make sense of, like
// a missing redirect or a Location header without a code.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "unexpected authorization response: " + e.Detail
}

type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// IsSessionValid reports whether the access token is still usable at now.
func IsSessionValid(creds Credentials, now time.Time) bool {
	return now.Unix() < creds.ExpiresAt
}

func credentialsFromSessionFileContent(content fs.SessionFileContent) Credentials {
	return Credentials{
		AccessToken:  content.AccessToken,
		RefreshToken: content.RefreshToken,
		ExpiresAt:    content.ExpiresAt,
	}
}

type Auth struct {
	baseURL  string
	username string
	password string
	file     fs.SessionFile
	// mu guards creds and the session file. Refreshes run while it is held,
	// so concurrent callers wait for one refresh and reuse its result.
	mu     sync.Mutex
	creds  Credentials
	logger zerolog.Logger
}

func New(baseURL, username, password, credsDir string, logger zerolog.Logger) *Auth {
	return &Auth{
		baseURL:  baseURL,
		username: username,
		password: password,
		file:     fs.SessionFileFrom(credsDir, sessionFileName),
		mu:       sync.Mutex{},
		creds:    Credentials{},
		logger:   logger,
	}
}

func (a *Auth) Credentials() Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds
}

// Load restores a persisted session, refreshing or re-logging-in as needed:
// no session on disk or a pre-refresh-token session triggers a full login, an
// expired session attempts a refresh first, and a rejected refresh token falls
// back to login.
func (a *Auth) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := a.file.Read()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Debug().Msg("No session found, logging in")
			return a.loginAndPersist(ctx)
		}
		return err
	}

	if content.RefreshToken == "" {
		// Session persisted by the old cookie-based flow carries no refresh
		// token and cannot be refreshed.
		a.logger.Debug().Msg("Persisted session has no refresh token, logging in")
		return a.loginAndPersist(ctx)
	}

	a.creds = credentialsFromSessionFileContent(*content)

	if !IsSessionValid(a.creds, time.Now()) {
		a.logger.Debug().Msg("Persisted session has expired, refreshing")
		return a.refreshSession(ctx)
	}

	return nil
}

// AccessToken returns a usable access token, refreshing the session first when
// it has expired. Concurrent callers block until one refresh completes and
// reuse its result.
func (a *Auth) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !IsSessionValid(a.creds, time.Now()) {
		if err := a.refreshSession(ctx); nil != err {
			return "", err
		}
	}
	return a.creds.AccessToken, nil
}

// ForceRefresh replaces a session whose access token was rejected upstream.
// When rejectedToken no longer matches the current token, another caller has
// already replaced the session and the call is a no-op.
func (a *Auth) ForceRefresh(ctx context.Context, rejectedToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.creds.AccessToken != rejectedToken {
		a.logger.Debug().Msg("Rejected access token was already replaced, skipping refresh")
		return nil
	}
	return a.refreshSession(ctx)
}

// refreshSession exchanges the refresh token for a new session. A refusal
// shaped like a revoked grant clears the persisted session and performs a full
// login instead of surfacing the error. Callers must hold mu.
func (a *Auth) refreshSession(ctx context.Context) error {
	creds, err := a.refresh(ctx)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		case errors.Is(err, ErrUnauthorized):
			a.logger.Warn().Msg("Refresh token was rejected, clearing session and logging in again")
			if err := a.file.Remove(); nil != err {
				return err
			}
			return a.loginAndPersist(ctx)
		default:
			return err
		}
	}

	a.creds = *creds
	return a.persist()
}

func (a *Auth) loginAndPersist(ctx context.Context) error {
	creds, err := a.login(ctx)
	if nil != err {
		return err
	}
	a.creds = *creds
	return a.persist()
}

func (a *Auth) persist() error {
	return a.file.Write(fs.SessionFileContent{
		AccessToken:  a.creds.AccessToken,
		RefreshToken: a.creds.RefreshToken,
		ExpiresAt:    a.creds.ExpiresAt,
	})
}

// login executes the three-step flow: credentials POST for a session cookie,
// authorize GET capturing the code from the 302 Location header, and the
// code-for-token form exchange.
func (a *Auth) login(ctx context.Context) (*Credentials, error) {
	jar, err := cookiejar.New(nil)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to create cookie jar: %v", err)).Append(flawP)
	}
	client := http.Client{ //nolint:exhaustruct
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if err := a.loginSession(ctx, &client); nil != err {
		return nil, err
	}

	code, err := a.authorize(ctx, &client)
	if nil != err {
		return nil, err
	}

	return a.exchangeCode(ctx, &client, code)
}

func (a *Auth) loginSession(ctx context.Context, client *http.Client) (err error) {
	reqURL, err := url.JoinPath(a.baseURL, "/auth/login/")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create login URL: %v", err)).Append(flawP)
	}
	flawP := flaw.P{"url": reqURL}

	reqBody, err := json.Marshal(map[string]string{"username": a.username, "password": a.password})
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to encode login request body: %v", err)).Append(flawP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create login request: %v", err)).Append(flawP)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("User-Agent", userAgent)

	client.Timeout = config.LoginRequestTimeout
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return flaw.From(fmt.Errorf("failed to issue login request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context was ended")).Join(closeErr)
			case errors.Is(err, context.DeadlineExceeded):
				err = flaw.From(errors.New("timeout has reached")).Join(closeErr)
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			default:
				// Sentinel and typed errors take precedence over a failed close.
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	if resp.StatusCode != http.StatusOK {
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return err
		}
		if httputil.IsBlankCredentialsResponse(respBytes) {
			return ErrCredentialsMissing
		}
		return &AuthenticationError{Detail: fmt.Sprintf("login failed with status %d: %s", resp.StatusCode, string(respBytes))}
	}

	apiURL, err := url.Parse(a.baseURL)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to parse base URL: %v", err)).Append(flawP)
	}
	for _, cookie := range client.Jar.Cookies(apiURL) {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			return nil
		}
	}

	respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
	if nil != err {
		return err
	}
	if detail, ok := httputil.NonFieldError(respBytes); ok {
		return &AuthenticationError{Detail: detail}
	}
	return &ProtocolError{Detail: "could not find sessionid cookie after successful login attempt"}
}

func (a *Auth) authorize(ctx context.Context, client *http.Client) (code string, err error) {
	reqURL, err := url.JoinPath(a.baseURL, "/auth/o/authorize/")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to create authorize URL: %v", err)).Append(flawP)
	}
	flawP := flaw.P{"url": reqURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return "", ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to create authorize request: %v", err)).Append(flawP)
	}
	reqParams := make(url.Values, 2)
	reqParams.Add("client_id", clientID)
	reqParams.Add("response_type", "code")
	req.URL.RawQuery = reqParams.Encode()
	req.Header.Add("User-Agent", userAgent)

	client.Timeout = config.AuthorizeRequestTimeout
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return "", ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return "", context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return "", flaw.From(fmt.Errorf("failed to issue authorize request: %v", err)).Append(flawP)
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

	if resp.StatusCode != http.StatusFound {
		return "", &ProtocolError{Detail: fmt.Sprintf("authorize step returned status %d, expected a 302 redirect", resp.StatusCode)}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &ProtocolError{Detail: "authorize step did not return a Location header"}
	}

	redirectURL, err := url.Parse(location)
	if nil != err {
		return "", &ProtocolError{Detail: fmt.Sprintf("failed to parse authorize redirect Location %q: %v", location, err)}
	}
	code = redirectURL.Query().Get("code")
	if code == "" {
		return "", &ProtocolError{Detail: fmt.Sprintf("could not extract authorization code from redirect Location %q", location)}
	}
	return code, nil
}

func (a *Auth) exchangeCode(ctx context.Context, client *http.Client, code string) (creds *Credentials, err error) {
	reqParams := make(url.Values, 3)
	reqParams.Add("client_id", clientID)
	reqParams.Add("code", code)
	reqParams.Add("grant_type", "authorization_code")

	respBytes, err := a.tokenRequest(ctx, client, reqParams)
	if nil != err {
		return nil, err
	}
	flawP := flaw.P{}

	var respBody struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    *int64 `json:"expires_in"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		flawP["response_body"] = string(respBytes)
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to decode token response body: %v", err)).Append(flawP)
	}
	if respBody.AccessToken == "" || respBody.RefreshToken == "" || nil == respBody.ExpiresIn {
		return nil, &AuthenticationError{Detail: "token response is missing required fields"}
	}

	return &Credentials{
		AccessToken:  respBody.AccessToken,
		RefreshToken: respBody.RefreshToken,
		ExpiresAt:    time.Now().Unix() + *respBody.ExpiresIn,
	}, nil
}

// refresh mints a new access token from the refresh token. Any upstream
// refusal comes back as ErrUnauthorized so the caller re-logs-in instead of
// aborting.
func (a *Auth) refresh(ctx context.Context) (creds *Credentials, err error) {
	a.logger.Debug().Str("refresh_token", log.RedactString(a.creds.RefreshToken)).Msg("Refreshing access token")

	reqParams := make(url.Values, 3)
	reqParams.Add("client_id", clientID)
	reqParams.Add("refresh_token", a.creds.RefreshToken)
	reqParams.Add("grant_type", "refresh_token")

	client := http.Client{Timeout: config.TokenRequestTimeout} //nolint:exhaustruct
	respBytes, err := a.tokenRequest(ctx, &client, reqParams)
	if nil != err {
		return nil, err
	}
	flawP := flaw.P{}

	var respBody struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    *int64 `json:"expires_in"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		flawP["response_body"] = string(respBytes)
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to decode refresh response body: %v", err)).Append(flawP)
	}
	if respBody.AccessToken == "" || nil == respBody.ExpiresIn {
		a.logger.Warn().Msg("Refresh response is missing required fields")
		return nil, ErrUnauthorized
	}

	refreshToken := a.creds.RefreshToken
	if respBody.RefreshToken != "" {
		// The upstream occasionally rotates the refresh token.
		refreshToken = respBody.RefreshToken
	}

	return &Credentials{
		AccessToken:  respBody.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Unix() + *respBody.ExpiresIn,
	}, nil
}

func (a *Auth) tokenRequest(ctx context.Context, client *http.Client, reqParams url.Values) (respBytes []byte, err error) {
	reqURL, err := url.JoinPath(a.baseURL, "/auth/o/token/")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to create token URL: %v", err)).Append(flawP)
	}
	flawP := flaw.P{"url": reqURL, "grant_type": reqParams.Get("grant_type")}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBufferString(reqParams.Encode()))
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to create token request: %v", err)).Append(flawP)
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("User-Agent", userAgent)

	client.Timeout = config.TokenRequestTimeout
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to issue token request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context was ended")).Join(closeErr)
			case errors.Is(err, context.DeadlineExceeded):
				err = flaw.From(errors.New("timeout has reached")).Join(closeErr)
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch code := resp.StatusCode; code {
	case http.StatusOK:
		return httputil.ReadResponseBody(ctx, resp)
	case http.StatusBadRequest, http.StatusUnauthorized:
		respBytes, err := httputil.ReadResponseBody(ctx, resp)
		if nil != err {
			return nil, err
		}
		if reqParams.Get("grant_type") == "refresh_token" {
			if ok, err := httputil.IsInvalidGrantResponse(respBytes); nil != err {
				return nil, err
			} else if ok {
				return nil, ErrUnauthorized
			}
			a.logger.Warn().Int("status_code", code).Str("body", string(respBytes)).Msg("Token refresh was refused")
			return nil, ErrUnauthorized
		}
		return nil, &AuthenticationError{Detail: fmt.Sprintf("token exchange failed with status %d: %s", code, string(respBytes))}
	default:
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return nil, err
		}
		if reqParams.Get("grant_type") == "refresh_token" {
			a.logger.Warn().Int("status_code", code).Str("body", string(respBytes)).Msg("Token refresh was refused")
			return nil, ErrUnauthorized
		}
		return nil, &AuthenticationError{Detail: fmt.Sprintf("token exchange failed with status %d: %s", code, string(respBytes))}
	}
}

// Subscription reads the account's subscription identifier from the
// introspection endpoint. An account without one cannot stream at all.
func (a *Auth) Subscription(ctx context.Context) (subscription string, err error) {
	accessToken, err := a.AccessToken(ctx)
	if nil != err {
		return "", err
	}

	reqURL, err := url.JoinPath(a.baseURL, "/auth/o/introspect")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to create introspect URL: %v", err)).Append(flawP)
	}
	flawP := flaw.P{"url": reqURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return "", ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to create introspect request: %v", err)).Append(flawP)
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)
	req.Header.Add("User-Agent", userAgent)

	client := http.Client{Timeout: config.IntrospectRequestTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return "", ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return "", context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return "", flaw.From(fmt.Errorf("failed to issue introspect request: %v", err)).Append(flawP)
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
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", ErrUnauthorized
	default:
		respBytes, err := httputil.ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return "", err
		}
		flawP["response_body"] = string(respBytes)
		return "", flaw.From(fmt.Errorf("unexpected introspect status code: %d", code)).Append(flawP)
	}

	respBytes, err := httputil.ReadResponseBody(ctx, resp)
	if nil != err {
		return "", err
	}
	// Accounts without an active plan introspect with a null subscription.
	var respBody struct {
		Subscription *string `json:"subscription"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		flawP["response_body"] = string(respBytes)
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to decode introspect response body: %v", err)).Append(flawP)
	}
	if subscription := ptr.ValueOr(respBody.Subscription, ""); subscription != "" {
		return subscription, nil
	}
	return "", ErrNoSubscription
}
