// Package filter implements the include/exclude table filter of
// spec.md §4.13.
package filter

import "regexp"

// Filter decides whether a fully-qualified db.table identifier is
// processed. A table passes iff (include absent or matches) AND
// (exclude absent or does not match).
type Filter struct {
	include *regexp.Regexp
	exclude *regexp.Regexp
}

// New compiles the optional include/exclude patterns. Either may be
// empty, meaning "no constraint" on that side.
func New(include, exclude string) (*Filter, error) {
	f := &Filter{}
	if include != "" {
		re, err := regexp.Compile(include)
		if err != nil {
			return nil, err
		}
		f.include = re
	}
	if exclude != "" {
		re, err := regexp.Compile(exclude)
		if err != nil {
			return nil, err
		}
		f.exclude = re
	}
	return f, nil
}

// Allows reports whether db.table should be processed.
func (f *Filter) Allows(db, table string) bool {
	qualified := db + "." + table
	if f.include != nil && !f.include.MatchString(qualified) {
		return false
	}
	if f.exclude != nil && f.exclude.MatchString(qualified) {
		return false
	}
	return true
}
