package split

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// latin1Letters are the accented letters of the Latin-1 block
// (U+00C0-U+00FF without the multiplication and division signs).
var latin1Letters = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0xC0, Hi: 0xD6, Stride: 1},
		{Lo: 0xD8, Hi: 0xF6, Stride: 1},
		{Lo: 0xF8, Hi: 0xFF, Stride: 1},
	},
	LatinOffset: 3,
}

// FoldSourceName derives the comparison form of a sourceName:
//
//  1. after NFC composition, Latin-1 accented letters are removed outright
//     ("Café" -> "Caf"); letters outside that block are kept ("Škoda");
//  2. every remaining rune that is neither a word rune (letter, number,
//     underscore) nor whitespace, and every no-break space, becomes ' '.
//     A combining mark left over from step 1 is not a word rune.
func FoldSourceName(s string) string {
	out, _, err := transform.String(folder(), s)
	if err != nil {
		return s
	}
	return out
}

// A transform.Chain keeps per-use state, so each call builds its own.
func folder() transform.Transformer {
	return transform.Chain(
		norm.NFC,
		runes.Remove(runes.In(latin1Letters)),
		runes.Map(punctToSpace),
	)
}

func punctToSpace(r rune) rune {
	switch {
	case r == '\u00a0':
		return ' '
	case r == '_', unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsSpace(r):
		return r
	default:
		return ' '
	}
}
