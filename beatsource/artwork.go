package beatsource

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxArtworkSize caps requested artwork dimensions; the upstream serves
// nothing larger.
const MaxArtworkSize = 1400

var literalResolutionPattern = regexp.MustCompile(`\d{3,4}x\d{3,4}`)

// GenerateArtworkURL turns a cover URL into one at the requested square size.
// URLs carrying a literal resolution like "500x500" are rewritten into the
// dynamic "{w}x{h}" template first, so the rewrite is idempotent for a fixed
// size.
func GenerateArtworkURL(coverURL string, size int) string {
	if size > MaxArtworkSize {
		size = MaxArtworkSize
	}

	if !strings.Contains(coverURL, "{w}") && !strings.Contains(coverURL, "{h}") {
		coverURL = literalResolutionPattern.ReplaceAllString(coverURL, "{w}x{h}")
	}

	s := strconv.Itoa(size)
	coverURL = strings.ReplaceAll(coverURL, "{w}", s)
	return strings.ReplaceAll(coverURL, "{h}", s)
}
