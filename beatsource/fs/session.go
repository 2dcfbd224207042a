package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/bsdl/errutil"
	"github.com/xeptore/bsdl/must"
)

type SessionFile string

func (f SessionFile) path() string {
	return string(f)
}

func SessionFileFrom(dir, filename string) SessionFile {
	return SessionFile(filepath.Join(dir, filename))
}

type SessionFileContent struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func (f SessionFile) Read() (c *SessionFileContent, err error) {
	file, err := os.OpenFile(f.path(), os.O_RDONLY, 0o0600)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to open session file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close session file: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			default:
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	if err := json.NewDecoder(file).Decode(&c); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to decode session file: %v", err)).Append(flawP)
	}

	return c, nil
}

func (f SessionFile) Write(c SessionFileContent) (err error) {
	file, err := os.OpenFile(f.path(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o0600)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to open session file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close session file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	if err := json.NewEncoder(file).Encode(c); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to encode session file: %v", err)).Append(flawP)
	}
	return nil
}

func (f SessionFile) Remove() error {
	if err := os.Remove(f.path()); nil != err && !errors.Is(err, os.ErrNotExist) {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to remove session file: %v", err)).Append(flawP)
	}
	return nil
}
