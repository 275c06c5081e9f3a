package csv

import "golang.org/x/text/transform"

// unescaper rewrites the table dialect (backslash escapes inside quoted
// fields) into RFC 4180 form so encoding/csv can read it:
//
//	\"  -> ""
//	\\  -> \
//
// Bytes outside quoted fields pass through untouched.
type unescaper struct {
	comma      byte
	inQuote    bool
	fieldStart bool
}

func newUnescaper(comma byte) *unescaper {
	u := &unescaper{comma: comma}
	u.Reset()
	return u
}

func (u *unescaper) Reset() {
	u.inQuote = false
	u.fieldStart = true
}

func (u *unescaper) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]

		if !u.inQuote {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			switch {
			case c == '"' && u.fieldStart:
				u.inQuote = true
				u.fieldStart = false
			case c == u.comma || c == '\n':
				u.fieldStart = true
			case c == '\r':
			default:
				u.fieldStart = false
			}
			dst[nDst] = c
			nDst++
			nSrc++
			continue
		}

		switch c {
		case '\\':
			if nSrc+1 >= len(src) && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			var next byte
			if nSrc+1 < len(src) {
				next = src[nSrc+1]
			}
			switch next {
			case '"':
				if nDst+2 > len(dst) {
					return nDst, nSrc, transform.ErrShortDst
				}
				dst[nDst], dst[nDst+1] = '"', '"'
				nDst += 2
				nSrc += 2
			case '\\':
				if nDst >= len(dst) {
					return nDst, nSrc, transform.ErrShortDst
				}
				dst[nDst] = '\\'
				nDst++
				nSrc += 2
			default:
				// Not an escape we produce; keep the backslash literally.
				if nDst >= len(dst) {
					return nDst, nSrc, transform.ErrShortDst
				}
				dst[nDst] = '\\'
				nDst++
				nSrc++
			}
		case '"':
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			u.inQuote = false
			dst[nDst] = c
			nDst++
			nSrc++
		default:
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
			nSrc++
		}
	}
	return nDst, nSrc, nil
}
