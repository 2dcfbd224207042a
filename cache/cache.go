package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

var (
	DefaultReleaseTTL = 1 * time.Hour
	DefaultCoverTTL   = 10 * time.Minute
)

// Releases memoizes raw release documents (as their JSON text) so normalizing
// every track of one release fetches the release record only once.
type Releases struct {
	c   *ccache.Cache[string]
	mux sync.Mutex
}

func NewReleases() *Releases {
	return &Releases{
		c: ccache.New(
			ccache.Configure[string]().
				MaxSize(1000).
				GetsPerPromote(3).
				ItemsToPrune(1),
		),
		mux: sync.Mutex{},
	}
}

func (c *Releases) Fetch(k string, ttl time.Duration, fetch func() (string, error)) (*ccache.Item[string], error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.c.Fetch(k, ttl, fetch)
}

// Covers keeps downloaded cover images around for the duration of a batch, as
// every track of a release shares the same artwork URL.
type Covers struct {
	c *ccache.Cache[[]byte]
}

func NewCovers() *Covers {
	return &Covers{
		c: ccache.New(
			ccache.Configure[[]byte]().
				MaxSize(100).
				GetsPerPromote(3).
				ItemsToPrune(1),
		),
	}
}

func (c *Covers) Get(k string) ([]byte, bool) {
	item := c.c.Get(k)
	if nil == item || item.Expired() {
		return nil, false
	}
	return item.Value(), true
}

func (c *Covers) Set(k string, b []byte) {
	c.c.Set(k, b, DefaultCoverTTL)
}
