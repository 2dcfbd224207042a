package config

import "time"

var (
	LoginRequestTimeout       = 10 * time.Second
	AuthorizeRequestTimeout   = 5 * time.Second
	TokenRequestTimeout       = 5 * time.Second
	IntrospectRequestTimeout  = 5 * time.Second
	CatalogRequestTimeout     = 10 * time.Second
	StreamURLRequestTimeout   = 5 * time.Second
	TrackDownloadTimeout      = 5 * time.Minute
	CoverDownloadTimeout      = 5 * time.Second
	SessionPersistGracePeriod = 5 * time.Second
)
