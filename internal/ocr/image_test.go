package ocr

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curlys/curlys-books/internal/models"
)

func TestNormalizeCapsLongestSide(t *testing.T) {
	img := imaging.New(2400, 1600, color.White)

	data, err := Normalize(img, 800, 90)
	require.NoError(t, err)

	decoded, err := DecodeImage(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 800, decoded.Bounds().Dx())
	assert.LessOrEqual(t, decoded.Bounds().Dy(), 800)
}

func TestNormalizeLeavesSmallImagesAlone(t *testing.T) {
	img := imaging.New(400, 300, color.White)

	data, err := Normalize(img, 800, 90)
	require.NoError(t, err)

	decoded, err := DecodeImage(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 400, decoded.Bounds().Dx())
	assert.Equal(t, 300, decoded.Bounds().Dy())
}

func TestThumbnailIsSquare(t *testing.T) {
	img := imaging.New(1200, 900, color.White)

	data, err := Thumbnail(img, 200, 90)
	require.NoError(t, err)

	decoded, err := DecodeImage(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, decoded.Bounds().Dx())
	assert.Equal(t, 200, decoded.Bounds().Dy())
}

func TestCropLineRegion(t *testing.T) {
	img := imaging.New(1000, 1000, color.White)

	boxes := []models.BoundingBox{
		{Left: 0.10, Top: 0.40, Width: 0.50, Height: 0.03},
		{Left: 0.10, Top: 0.45, Width: 0.60, Height: 0.03},
	}

	data, err := CropLineRegion(img, boxes, 90)
	require.NoError(t, err)

	decoded, err := DecodeImage(bytes.NewReader(data))
	require.NoError(t, err)

	// union 0.10..0.70 wide padded by 5% each side: 0.05..0.75 of 1000px
	assert.Equal(t, 700, decoded.Bounds().Dx())
	// union 0.40..0.48 tall padded: 0.35..0.53
	assert.Equal(t, 180, decoded.Bounds().Dy())
}

func TestCropLineRegionRequiresBoxes(t *testing.T) {
	img := imaging.New(100, 100, color.White)

	_, err := CropLineRegion(img, nil, 90)
	assert.Error(t, err)
}
