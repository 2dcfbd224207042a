package beatsource

import (
	"fmt"
	"regexp"
)

// Kind identifies a catalog entity class addressed by a web URL.
type Kind int

const (
	KindTrack Kind = iota
	KindAlbum
	KindArtist
	KindPlaylist
	KindLabel
)

func (k Kind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindAlbum:
		return "album"
	case KindArtist:
		return "artist"
	case KindPlaylist:
		return "playlist"
	case KindLabel:
		return "label"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var linkPattern = regexp.MustCompile(`^https?://(?:www\.)?beatsource\.com/(?:[a-z]{2}/)?(track|release|artist|playlists|playlist|chart|label)(?:/[^/?#]+)*?/(\d+)[^/]*?(?:$|\?)`)

// ParseLink maps a catalog web URL to its entity kind and numeric id. Charts
// are addressed through the playlist kind; the playlist fetch decides which
// endpoint actually serves the id.
func ParseLink(link string) (Kind, string, error) {
	m := linkPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, "", fmt.Errorf("could not parse Beatsource URL: %s", link)
	}

	var kind Kind
	switch m[1] {
	case "track":
		kind = KindTrack
	case "release":
		kind = KindAlbum
	case "artist":
		kind = KindArtist
	case "playlist", "playlists", "chart":
		kind = KindPlaylist
	case "label":
		kind = KindLabel
	default:
		return 0, "", fmt.Errorf("unknown media type %q in URL: %s", m[1], link)
	}

	return kind, m[2], nil
}
