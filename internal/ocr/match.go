package ocr

import (
	"strings"

	"github.com/curlys/curlys-books/internal/models"
)

// minSharedTokens is how many tokens a detected OCR line must share with
// a parsed line's raw text before we trust the geometry match
const minSharedTokens = 2

// MatchLine finds the detected line whose text best overlaps the parsed
// line's raw text. Returns nil when nothing shares at least two tokens,
// which happens when the parser normalized the text beyond recognition.
func MatchLine(detected []Line, rawText string) *Line {
	want := tokenSet(rawText)
	if len(want) == 0 {
		return nil
	}

	var best *Line
	bestShared := 0
	for i := range detected {
		shared := 0
		for _, token := range strings.Fields(strings.ToUpper(detected[i].Text)) {
			if want[token] {
				shared++
			}
		}
		if shared >= minSharedTokens && shared > bestShared {
			best = &detected[i]
			bestShared = shared
		}
	}
	return best
}

// AssignBoundingBoxes attaches detected line geometry to parsed receipt
// lines in place and reports how many lines were located
func AssignBoundingBoxes(lines []models.ReceiptLine, detected []Line) int {
	matched := 0
	for i := range lines {
		if line := MatchLine(detected, lines[i].RawText); line != nil {
			box := line.Box
			lines[i].BoundingBox = &box
			matched++
		}
	}
	return matched
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToUpper(s)) {
		set[token] = true
	}
	return set
}
