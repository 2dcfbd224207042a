package beatsource

// Output record types produced for the caller. Zero values stand for fields
// the upstream did not provide.

type Tags struct {
	AlbumArtist string
	TrackNumber int
	TotalTracks int
	UPC         string
	ISRC        string
	Genres      []string
	ReleaseDate string
	Copyright   string
	Label       string
	ExtraTags   map[string]string
}

type TrackInfo struct {
	ID          string
	Name        string
	Album       string
	AlbumID     string
	Artists     []string
	ArtistID    string
	ReleaseYear string
	Duration    int // seconds
	Format      Format
	CoverURL    string
	Tags        Tags

	// Error carries soft per-track conditions (region lock, preorder, not
	// streamable) so batch operations can skip past one bad item.
	Error string
}

type AlbumInfo struct {
	ID           string
	Name         string
	Artist       string
	ArtistID     string
	ReleaseYear  string
	Duration     int
	UPC          string
	CoverURL     string
	TrackIDs     []string
	TrackRecords EntityCache
}

type PlaylistInfo struct {
	ID           string
	Name         string
	Creator      string
	ReleaseYear  string
	Duration     int
	CoverURL     string
	TrackIDs     []string
	TrackRecords EntityCache
}

type ArtistInfo struct {
	ID           string
	Name         string
	TrackIDs     []string
	TrackRecords EntityCache
}

type LabelInfo struct {
	ID           string
	Name         string
	AlbumIDs     []string
	TrackIDs     []string
	TrackRecords EntityCache
}

type SearchResult struct {
	ID         string
	Name       string
	Artists    []string
	Year       string
	Duration   int
	Additional []string
	Record     Record
}

type CoverInfo struct {
	URL      string
	FileType string
}

type DownloadInfo struct {
	TrackID string
	Quality string
	URL     string
}
