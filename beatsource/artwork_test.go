package beatsource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/bsdl/beatsource"
)

func TestGenerateArtworkURL(t *testing.T) {
	t.Parallel()

	t.Run("TemplateURL", func(t *testing.T) {
		t.Parallel()
		got := beatsource.GenerateArtworkURL("https://cdn.example.com/img/{w}x{h}/cover.jpg", 500)
		assert.Equal(t, "https://cdn.example.com/img/500x500/cover.jpg", got)
	})

	t.Run("LiteralResolutionIsRewritten", func(t *testing.T) {
		t.Parallel()
		got := beatsource.GenerateArtworkURL("https://cdn.example.com/img/1400x1400/cover.jpg", 500)
		assert.Equal(t, "https://cdn.example.com/img/500x500/cover.jpg", got)
	})

	t.Run("SizeIsCapped", func(t *testing.T) {
		t.Parallel()
		got := beatsource.GenerateArtworkURL("https://cdn.example.com/img/{w}x{h}/cover.jpg", 4000)
		assert.Equal(t, "https://cdn.example.com/img/1400x1400/cover.jpg", got)
	})

	t.Run("Idempotent", func(t *testing.T) {
		t.Parallel()
		once := beatsource.GenerateArtworkURL("https://cdn.example.com/img/{w}x{h}/cover.jpg", 800)
		twice := beatsource.GenerateArtworkURL(once, 800)
		assert.Equal(t, once, twice)
	})

	t.Run("NoResolutionSegment", func(t *testing.T) {
		t.Parallel()
		got := beatsource.GenerateArtworkURL("https://cdn.example.com/img/cover.jpg", 500)
		assert.Equal(t, "https://cdn.example.com/img/cover.jpg", got)
	})
}
