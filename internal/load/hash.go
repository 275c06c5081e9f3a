package load

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashColumn holds a digest of a record's values, letting consumers spot rows
// loaded twice.
const HashColumn = "row_hash"

const hashSep = "\x1f"

// RowHash returns the hex SHA-256 of name=value pairs joined by a unit
// separator. Absent (nil) values hash differently from empty strings.
func RowHash(names []string, values []any) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString(hashSep)
		}
		b.WriteString(name)
		b.WriteByte('=')
		switch v := values[i].(type) {
		case nil:
			b.WriteByte(0)
		case string:
			b.WriteString(v)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
