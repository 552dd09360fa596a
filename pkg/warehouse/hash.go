package warehouse

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// SurrogateHashes computes one content-identity digest per row over the
// named identity columns, in input order. The string forms of the identity
// values are concatenated in the given column order with no separator and
// digested with SHA-384, hex encoded.
//
// Equal identity values (after string coercion) always yield equal digests.
// The separator-free concatenation is a long-standing convention of the
// tables this engine loads: adjacent values can collide, e.g. (1, "23")
// and (12, "3") hash identically. The digest is a change-detection
// fingerprint, not a security primitive.
func SurrogateHashes(records *RecordSet, identityColumns []string) ([]string, error) {
	if records == nil {
		return nil, &ValidationError{Field: "records", Message: "record set is required"}
	}
	if len(identityColumns) == 0 {
		return nil, &ValidationError{Field: "identityColumns", Message: "at least one identity column is required"}
	}

	indexes := make([]int, len(identityColumns))
	for i, col := range identityColumns {
		idx := records.ColumnIndex(col)
		if idx < 0 {
			return nil, &ValidationError{Field: "identityColumns", Message: fmt.Sprintf("column %s is not part of the record set", col)}
		}
		indexes[i] = idx
	}

	hashes := make([]string, len(records.Rows))
	for i, row := range records.Rows {
		h := sha512.New384()
		for _, idx := range indexes {
			if idx >= len(row) {
				return nil, &ValidationError{Field: "records", Message: fmt.Sprintf("row %d has %d values, expected at least %d", i, len(row), idx+1)}
			}
			h.Write([]byte(coerceString(row[idx])))
		}
		hashes[i] = hex.EncodeToString(h.Sum(nil))
	}
	return hashes, nil
}
