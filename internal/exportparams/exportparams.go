// Package exportparams derives the _type and _typeFilter parameters of a FHIR
// bulk $export kick-off request from a measure's data requirements.
package exportparams

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ehr/bulk-measure/internal/platform/fhir"
)

var (
	// ErrInvalidDateRange is returned for a period date filter whose start is
	// after its end.
	ErrInvalidDateRange = errors.New("Date filter start value SHALL have a lower or equal value than end.")
	// ErrNoDataRequirements is returned for a Library without a
	// dataRequirement element.
	ErrNoDataRequirements = errors.New("Data requirements array is not defined for the Library. Aborting $export request.")
)

// ExportQueryParams holds the derived query parameters. Empty members are
// omitted from both the JSON form and Values.
type ExportQueryParams struct {
	Type       string `json:"_type,omitempty"`
	TypeFilter string `json:"_typeFilter,omitempty"`
}

// Values renders the parameters for merging into a kick-off request URL.
func (p ExportQueryParams) Values() url.Values {
	v := url.Values{}
	if p.Type != "" {
		v.Set("_type", p.Type)
	}
	if p.TypeFilter != "" {
		v.Set("_typeFilter", p.TypeFilter)
	}
	return v
}

// IsEmpty reports whether neither parameter is set.
func (p ExportQueryParams) IsEmpty() bool {
	return p.Type == "" && p.TypeFilter == ""
}

// Build derives export parameters from reqs. _type lists every requirement
// type once, in first-seen order, when autoType is set. _typeFilter holds one
// "<Type>?<terms>" clause per requirement with at least one recognised filter
// when autoTypeFilter is set. An invalid date range fails the whole call.
func Build(reqs []fhir.DataRequirement, autoType, autoTypeFilter bool) (ExportQueryParams, error) {
	var params ExportQueryParams

	if autoType {
		seen := make(map[string]bool, len(reqs))
		types := make([]string, 0, len(reqs))
		for _, r := range reqs {
			if r.Type == "" || seen[r.Type] {
				continue
			}
			seen[r.Type] = true
			types = append(types, r.Type)
		}
		params.Type = strings.Join(types, ",")
	}

	if autoTypeFilter {
		clauses := make([]string, 0, len(reqs))
		for _, r := range reqs {
			terms, err := requirementTerms(r)
			if err != nil {
				return ExportQueryParams{}, err
			}
			if len(terms) == 0 {
				continue
			}
			clauses = append(clauses, r.Type+"?"+strings.Join(terms, "&"))
		}
		params.TypeFilter = strings.Join(clauses, ",")
	}

	return params, nil
}

func requirementTerms(r fhir.DataRequirement) ([]string, error) {
	var terms []string
	for _, cf := range r.CodeFilter {
		if t, ok := codeFilterTerm(cf); ok {
			terms = append(terms, t)
		}
	}
	for _, df := range r.DateFilter {
		ts, err := dateFilterTerms(df)
		if err != nil {
			return nil, fmt.Errorf("%s dateFilter %q: %w", r.Type, df.Path, err)
		}
		terms = append(terms, ts...)
	}
	return terms, nil
}

// codeFilterTerm translates a code filter. A value set gives "<path>:in=<vs>";
// an explicit code list on the code element gives "code=<first code>".
// Anything else is not a recognised filter.
func codeFilterTerm(cf fhir.DataRequirementCodeFilter) (string, bool) {
	switch {
	case cf.ValueSet != "" && cf.Path != "":
		return cf.Path + ":in=" + cf.ValueSet, true
	case cf.Path == "code" && len(cf.Code) > 0 && cf.Code[0].Code != "":
		return "code=" + cf.Code[0].Code, true
	default:
		return "", false
	}
}

var durationPrefix = map[string]string{
	"":   "eq",
	">":  "gt",
	">=": "ge",
	"<":  "lt",
	"<=": "le",
}

func dateFilterTerms(df fhir.DataRequirementDateFilter) ([]string, error) {
	if df.Path == "" {
		return nil, nil
	}
	key := df.Path + "="

	switch {
	case df.ValueDateTime != "":
		return []string{key + "eq" + df.ValueDateTime}, nil

	case df.ValuePeriod != nil:
		start, end := df.ValuePeriod.Start, df.ValuePeriod.End
		switch {
		case start != "" && end != "":
			if after(start, end) {
				return nil, ErrInvalidDateRange
			}
			return []string{key + "ge" + start, key + "le" + end}, nil
		case start != "":
			return []string{key + "ge" + start}, nil
		case end != "":
			return []string{key + "le" + end}, nil
		}
		return nil, nil

	case df.ValueDuration != nil:
		d := df.ValueDuration
		prefix, known := durationPrefix[d.Comparator]
		if !known || d.Value == nil {
			return nil, nil
		}
		v := prefix + d.Value.String()
		switch {
		case d.System != "" && d.Code != "":
			v += "|" + d.System + "|" + d.Code
		case d.Code != "":
			v += "||" + d.Code
		}
		return []string{key + v}, nil
	}
	return nil, nil
}

// dateTimeLayouts are the FHIR dateTime precisions, most specific first.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// after reports whether start is strictly later than end. Values that do not
// parse as FHIR dateTimes are compared as strings.
func after(start, end string) bool {
	s, okS := parseDateTime(start)
	e, okE := parseDateTime(end)
	if okS && okE {
		return s.After(e)
	}
	return start > end
}
