package object

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t, "payments/p1/abc_thumb.jpg", ThumbnailKey("payments/p1/abc.png"))
	assert.Equal(t, "payments/p1/abc_thumb.jpg", ThumbnailKey("payments/p1/abc"))
}

func TestStoreKeyAppliesPrefixOnce(t *testing.T) {
	s := NewStore(nil, "proofs", "/negotiation/")
	assert.Equal(t, "negotiation/payments/p1/a.png", s.Key("/payments/p1/a.png"))
	assert.Equal(t, "negotiation/payments/p1/a.png", s.Key("negotiation/payments/p1/a.png"))

	bare := NewStore(nil, "proofs", "")
	assert.Equal(t, "payments/p1/a.png", bare.Key("payments/p1/a.png"))
}

func TestThumbnailFitsBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 400))
	for x := 0; x < 800; x++ {
		src.Set(x, x%400, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	out, err := Thumbnail(&buf)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, thumbnailEdge, decoded.Bounds().Dx())
	assert.Equal(t, thumbnailEdge, decoded.Bounds().Dy())
}

func TestThumbnailRejectsNonImage(t *testing.T) {
	_, err := Thumbnail(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}
