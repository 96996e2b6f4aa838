package datasets

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func (l *Locator) client() HTTPDoer {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *Locator) openHTTP(ctx context.Context, name string) (io.ReadCloser, error) {
	base, err := url.Parse(l.BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "datasets: parsing datasets_url %q", l.BaseURL)
	}

	var lastErr error
	for _, c := range candidates(name) {
		u := *base
		u.Path = path.Join("/", base.Path, c)
		rc, err := l.get(ctx, u.String())
		if err == nil {
			return rc, nil
		}
		lastErr = err
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
	}
	return nil, errors.Wrapf(lastErr, "datasets.Open(%q) over http", name)
}

func (l *Locator) get(ctx context.Context, u string) (io.ReadCloser, error) {
	glog.V(2).Infof("datasets: GET %s", u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", u)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		e := os.ErrInvalid
		if resp.StatusCode == http.StatusNotFound {
			e = os.ErrNotExist
		}
		return nil, errors.Wrapf(e, "GET %s: http status %d, want 2xx", u, resp.StatusCode)
	}
	return resp.Body, nil
}
