package irradiance

import (
	"fmt"
	"io"
)

// Source is one raw delimited-text input. Name drives component
// detection; several sources for the same grid merge into one row set.
type Source struct {
	Name   string
	Reader io.Reader
}

// RowSet is the canonical, merged output of the parser. HasDHI/HasDNI
// report whether the secondary components carried at least one value, so
// storage can stay sparse when they are absent.
type RowSet struct {
	Rows     []*Row
	HasDHI   bool
	HasDNI   bool
	Errors   []RowError
	Warnings []string
}

// Parse reads every source, merges rows across files by exact
// coordinate key and validates the result per row. A file without usable
// coordinate columns aborts the whole parse with a ParseError; individual
// bad rows are dropped and recorded.
func Parse(sources []Source) (*RowSet, error) {
	if len(sources) == 0 {
		return nil, &ParseError{File: "", Detail: "no source files"}
	}

	var files []*fileRows
	for _, src := range sources {
		fr, err := parseFile(src.Name, src.Reader)
		if err != nil {
			return nil, err
		}
		files = append(files, fr)
	}

	set := &RowSet{}
	byKey := make(map[string]*Row)

	for _, fr := range files {
		set.Errors = append(set.Errors, fr.errors...)

		for _, pr := range fr.rows {
			row, ok := byKey[pr.key]
			if !ok {
				row = &Row{Key: pr.key, Lat: pr.lat, Lon: pr.lon}
				byKey[pr.key] = row
				set.Rows = append(set.Rows, row)
			}

			target := row.target(fr.component)
			for m, v := range pr.months {
				// An earlier file's value for the same slot wins
				if v != nil && target[m] == nil {
					target[m] = v
				}
			}
		}
	}

	for _, row := range set.Rows {
		empty := true
		for _, v := range row.M {
			if v != nil {
				empty = false
				break
			}
		}
		if empty {
			set.Warnings = append(set.Warnings, fmt.Sprintf("point %s has no primary values for any month", row.Key))
		}

		for _, v := range row.DHI {
			if v != nil {
				set.HasDHI = true
				break
			}
		}
		for _, v := range row.DNI {
			if v != nil {
				set.HasDNI = true
				break
			}
		}
	}

	return set, nil
}

// target returns the monthly slot array a component is allowed to fill
func (r *Row) target(c Component) *[12]*float64 {
	switch c {
	case ComponentDHI:
		return &r.DHI
	case ComponentDNI:
		return &r.DNI
	default:
		return &r.M
	}
}
