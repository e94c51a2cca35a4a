package irradiance

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Checksum derives the deterministic content hash of a row set. Rows are
// canonically sorted by latitude then longitude first, so two ingestions
// of the same data in different row order share a checksum. Only the
// primary monthly values participate; empty months serialize as empty
// strings.
func Checksum(rows []*Row) string {
	sorted := make([]*Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Lat != sorted[j].Lat {
			return sorted[i].Lat < sorted[j].Lat
		}
		return sorted[i].Lon < sorted[j].Lon
	})

	var b strings.Builder
	for i, row := range sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(canonicalRow(row))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalRow(r *Row) string {
	parts := make([]string, 0, 14)
	parts = append(parts,
		strconv.FormatFloat(r.Lat, 'f', -1, 64),
		strconv.FormatFloat(r.Lon, 'f', -1, 64),
	)
	for _, v := range r.M {
		if v == nil {
			parts = append(parts, "")
		} else {
			parts = append(parts, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	return strings.Join(parts, ":")
}
