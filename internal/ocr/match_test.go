package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curlys/curlys-books/internal/models"
)

func TestMatchLine(t *testing.T) {
	detected := []Line{
		{Text: "MACQUARRIES PHARMASAVE", Box: models.BoundingBox{Top: 0.05}},
		{Text: "1 123456 VITAMIN C 500MG 12.99 TN", Box: models.BoundingBox{Top: 0.40}},
		{Text: "TOTAL $21.62", Box: models.BoundingBox{Top: 0.90}},
	}

	t.Run("two shared tokens match", func(t *testing.T) {
		line := MatchLine(detected, "VITAMIN C 500MG")
		require.NotNil(t, line)
		assert.Equal(t, 0.40, line.Box.Top)
	})

	t.Run("single shared token is not enough", func(t *testing.T) {
		assert.Nil(t, MatchLine(detected, "VITAMIN GUMMIES"))
	})

	t.Run("best overlap wins", func(t *testing.T) {
		moreLines := append(detected, Line{
			Text: "VITAMIN C CHEWABLE 500MG TABLETS",
			Box:  models.BoundingBox{Top: 0.55},
		})
		line := MatchLine(moreLines, "VITAMIN C CHEWABLE 500MG")
		require.NotNil(t, line)
		assert.Equal(t, 0.55, line.Box.Top)
	})

	t.Run("empty raw text", func(t *testing.T) {
		assert.Nil(t, MatchLine(detected, "   "))
	})
}

func TestAssignBoundingBoxes(t *testing.T) {
	detected := []Line{
		{Text: "1 123456 VITAMIN C 500MG 12.99 TN", Box: models.BoundingBox{Top: 0.40, Height: 0.03}},
		{Text: "2 234567 MILK 2L 6.58 EN", Box: models.BoundingBox{Top: 0.45, Height: 0.03}},
	}
	lines := []models.ReceiptLine{
		{RawText: "1  123456  VITAMIN C 500MG  12.99 TN"},
		{RawText: "FADED BEYOND ANY RECOGNITION"},
	}

	matched := AssignBoundingBoxes(lines, detected)

	assert.Equal(t, 1, matched)
	require.NotNil(t, lines[0].BoundingBox)
	assert.Equal(t, 0.40, lines[0].BoundingBox.Top)
	assert.Nil(t, lines[1].BoundingBox)
}
