package irradiance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Component identifies which physical quantity a source file carries
type Component int

const (
	ComponentGHI Component = iota // primary, global horizontal
	ComponentDHI                  // diffuse
	ComponentDNI                  // direct normal
)

func (c Component) String() string {
	switch c {
	case ComponentDHI:
		return "dhi"
	case ComponentDNI:
		return "dni"
	default:
		return "ghi"
	}
}

// DetectComponent classifies a source file by filename substrings. A file
// without a recognized marker carries the primary quantity.
func DetectComponent(filename string) Component {
	name := strings.ToLower(filename)
	for _, marker := range []string{"direct_normal", "dni", "direta"} {
		if strings.Contains(name, marker) {
			return ComponentDNI
		}
	}
	for _, marker := range []string{"diffuse", "dhi", "difusa"} {
		if strings.Contains(name, marker) {
			return ComponentDHI
		}
	}
	return ComponentGHI
}

// ParseError signals a structurally unusable source file (missing
// coordinate columns, unreadable content). Caught before any version
// state is touched.
type ParseError struct {
	File   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s: %s", e.File, e.Detail)
}

// RowError records a single dropped data row
type RowError struct {
	File   string
	Line   int
	Reason string
}

// Row is one canonical grid point. Key is the exact lat:lon string pair
// used for cross-file merging. Monthly slots are nil when empty in the
// source.
type Row struct {
	Key string
	Lat float64
	Lon float64
	M   [12]*float64
	DHI [12]*float64
	DNI [12]*float64
}

// fileRows is the parse result of a single source file
type fileRows struct {
	name      string
	component Component
	rows      []*parsedRow
	errors    []RowError
}

type parsedRow struct {
	key    string
	lat    float64
	lon    float64
	months [12]*float64
}

// monthVocab maps three-letter month abbreviations (English and
// Portuguese) to a zero-based month index.
var monthVocab = map[string]int{
	"jan": 0, "feb": 1, "mar": 2, "apr": 3, "may": 4, "jun": 5,
	"jul": 6, "aug": 7, "sep": 8, "oct": 9, "nov": 10, "dec": 11,
	"fev": 1, "abr": 3, "mai": 4, "ago": 7, "set": 8, "out": 9, "dez": 11,
}

var latNames = map[string]bool{"lat": true, "latitude": true}
var lonNames = map[string]bool{"lon": true, "lng": true, "long": true, "longitude": true}

// detectDelimiter counts candidate delimiters on the header line. Tab
// wins ties, then semicolon.
func detectDelimiter(header string) rune {
	counts := []struct {
		delim rune
		n     int
	}{
		{'\t', strings.Count(header, "\t")},
		{';', strings.Count(header, ";")},
		{',', strings.Count(header, ",")},
	}

	best := counts[0]
	for _, c := range counts[1:] {
		if c.n > best.n {
			best = c
		}
	}
	return best.delim
}

// headerMap resolves column positions from a header row
type headerMap struct {
	lat    int
	lon    int
	months [12]int
}

func mapHeader(fields []string) headerMap {
	hm := headerMap{lat: -1, lon: -1}
	for i := range hm.months {
		hm.months[i] = -1
	}

	for i, raw := range fields {
		token := normalizeToken(raw)
		if latNames[token] && hm.lat == -1 {
			hm.lat = i
			continue
		}
		if lonNames[token] && hm.lon == -1 {
			hm.lon = i
			continue
		}
		if idx, ok := monthIndex(token); ok && hm.months[idx] == -1 {
			hm.months[idx] = i
		}
	}
	return hm
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(s, `"'`)
}

// monthIndex matches a header token against m01..m12 keys and the month
// vocabulary, tolerating a component prefix such as dhi_m01.
func monthIndex(token string) (int, bool) {
	for _, prefix := range []string{"ghi_", "dhi_", "dni_"} {
		token = strings.TrimPrefix(token, prefix)
	}

	if len(token) == 3 && token[0] == 'm' {
		if n, err := strconv.Atoi(token[1:]); err == nil && n >= 1 && n <= 12 {
			return n - 1, true
		}
	}

	if len(token) >= 3 {
		if idx, ok := monthVocab[token[:3]]; ok {
			return idx, true
		}
	}
	return 0, false
}

// parseNumber coerces a raw field into a float, accepting comma or dot
// decimal separators. Empty, "-" and N/A variants come back nil.
func parseNumber(raw string) (*float64, bool) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "-", "n/a", "na", "null":
		return nil, true
	}

	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			// 1.234,56 style: dot is the thousands separator
			s = strings.ReplaceAll(s, ".", "")
		}
		s = strings.ReplaceAll(s, ",", ".")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// coordinateKey builds the exact merge key two files must share for
// their rows to be joined.
func coordinateKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + ":" + strconv.FormatFloat(lon, 'f', -1, 64)
}

// parseFile reads one delimited blob into per-file rows. The component
// decides which monthly slots the file is allowed to fill at merge time.
func parseFile(name string, r io.Reader) (*fileRows, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{File: name, Detail: err.Error()}
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	content = strings.TrimLeft(content, "\uFEFF")
	newline := strings.IndexByte(content, '\n')
	header := content
	if newline >= 0 {
		header = content[:newline]
	}
	if strings.TrimSpace(header) == "" {
		return nil, &ParseError{File: name, Detail: "empty file"}
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = detectDelimiter(header)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ParseError{File: name, Detail: err.Error()}
	}
	if len(records) == 0 {
		return nil, &ParseError{File: name, Detail: "empty file"}
	}

	hm := mapHeader(records[0])
	if hm.lat == -1 || hm.lon == -1 {
		return nil, &ParseError{File: name, Detail: "missing latitude or longitude column"}
	}

	fr := &fileRows{name: name, component: DetectComponent(name)}

	for lineIdx, record := range records[1:] {
		line := lineIdx + 2 // 1-based, after the header

		if hm.lat >= len(record) || hm.lon >= len(record) {
			fr.errors = append(fr.errors, RowError{File: name, Line: line, Reason: "short row"})
			continue
		}

		lat, latOK := parseNumber(record[hm.lat])
		lon, lonOK := parseNumber(record[hm.lon])
		if !latOK || !lonOK || lat == nil || lon == nil {
			fr.errors = append(fr.errors, RowError{File: name, Line: line, Reason: "missing or unparseable coordinates"})
			continue
		}

		row := &parsedRow{key: coordinateKey(*lat, *lon), lat: *lat, lon: *lon}
		for m, col := range hm.months {
			if col == -1 || col >= len(record) {
				continue
			}
			if v, ok := parseNumber(record[col]); ok {
				row.months[m] = v
			}
		}
		fr.rows = append(fr.rows, row)
	}

	return fr, nil
}
