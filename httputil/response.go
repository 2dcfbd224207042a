package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/bsdl/errutil"
)

func readResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to read response body: %v", err)).Append(flawP)
		}
	}
	return respBody, nil
}

func ReadResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := readResponseBody(ctx, resp)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, flaw.From(errors.New("unexpected empty response body"))
		}
		return nil, err
	}
	return respBody, nil
}

func ReadOptionalResponseBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	respBody, err := ReadResponseBody(ctx, resp)
	if nil != err && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return respBody, nil
}

// IsInvalidGrantResponse matches the token endpoint error body returned when a
// refresh token has been revoked or expired and a full re-login is required.
func IsInvalidGrantResponse(b []byte) (bool, error) {
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(b, &body); nil != err {
		flawP := flaw.P{"response_body": string(b), "err_debug_tree": errutil.Tree(err).FlawP()}
		return false, flaw.From(fmt.Errorf("failed to decode token error response body: %v", err)).Append(flawP)
	}
	return body.Error == "invalid_grant", nil
}

// IsBlankCredentialsResponse matches the login endpoint validation body produced
// when both username and password fields were submitted blank.
func IsBlankCredentialsResponse(b []byte) bool {
	var body struct {
		Username []string `json:"username"`
		Password []string `json:"password"`
	}
	if err := json.Unmarshal(b, &body); nil != err {
		return false
	}
	containsBlank := func(msgs []string) bool {
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m), "blank") {
				return true
			}
		}
		return false
	}
	return containsBlank(body.Username) && containsBlank(body.Password)
}

// IsTerritoryRestrictedResponse matches the 403 detail body the catalog returns
// for content that is not licensed for the caller's region.
func IsTerritoryRestrictedResponse(b []byte) bool {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &body); nil != err {
		return false
	}
	return strings.Contains(body.Detail, "Territory")
}

// NonFieldError extracts the first non_field_errors entry from a login response
// body, if present.
func NonFieldError(b []byte) (string, bool) {
	var body struct {
		NonFieldErrors []string `json:"non_field_errors"`
	}
	if err := json.Unmarshal(b, &body); nil != err {
		return "", false
	}
	if len(body.NonFieldErrors) == 0 {
		return "", false
	}
	return body.NonFieldErrors[0], true
}
