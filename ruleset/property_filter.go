package ruleset

import (
	"regexp"
	"strings"

	"github.com/syslogcore/engine/record"
)

// CompareOp is the comparison a PropertyFilter applies, mirroring the
// filter-type distinction in the original ruleset engine (NONE always
// matches, a property filter compares one extracted field, a script filter
// is out of scope entirely).
type CompareOp int

const (
	OpEquals CompareOp = iota
	OpContains
	OpStartsWith
	OpRegexp
)

// PropertyGetter extracts one string property from a record, the moral
// equivalent of rsyslog's "fromhost"/"syslogtag"/"msg" property names.
type PropertyGetter func(rec *record.Record) string

// Common property getters matching the fields a selector line typically
// filters on.
var (
	PropHost = func(r *record.Record) string { return r.Origin.Host }
	PropApp  = func(r *record.Record) string { return r.Origin.App }
	PropMsg  = func(r *record.Record) string { return string(r.Raw) }
)

// PropertyFilter is the one concrete Filter the core ships: a
// property==value / contains / prefix / regexp matcher, sufficient to drive
// and test dispatch without an expression-language engine (out of scope).
type PropertyFilter struct {
	Property PropertyGetter
	Op       CompareOp
	Value    string
	re       *regexp.Regexp
}

// NewPropertyFilter constructs a PropertyFilter. For OpRegexp, value is
// compiled immediately; a bad pattern makes the filter never match rather
// than panicking at dispatch time.
func NewPropertyFilter(prop PropertyGetter, op CompareOp, value string) *PropertyFilter {
	f := &PropertyFilter{Property: prop, Op: op, Value: value}
	if op == OpRegexp {
		f.re, _ = regexp.Compile(value)
	}
	return f
}

// Match implements Filter.
func (f *PropertyFilter) Match(rec *record.Record) bool {
	if f.Property == nil {
		return false
	}
	v := f.Property(rec)
	switch f.Op {
	case OpEquals:
		return v == f.Value
	case OpContains:
		return strings.Contains(v, f.Value)
	case OpStartsWith:
		return strings.HasPrefix(v, f.Value)
	case OpRegexp:
		return f.re != nil && f.re.MatchString(v)
	default:
		return false
	}
}
