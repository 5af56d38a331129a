// Package normalize converts raw fetched catalog objects into CourseRecord
// values. Records without a resolvable id or a parseable start date are
// dropped here; that is the data-quality gate for every downstream view.
package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
)

// Raw field names as published by the catalog.
const (
	fieldID        = "idCurso"
	fieldProjectID = "idProyecto"
	fieldTitle     = "nombreCurso"
	fieldStartDate = "fechaInicio"
)

// dateFormats are tried in order. The catalog publishes locale date-time
// strings (day first); ISO shapes are accepted for forward compatibility.
var dateFormats = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// MonthLocale maps a parsed month to its display name.
type MonthLocale [12]string

var monthLocales = map[string]MonthLocale{
	"es": {"enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
	"en": {"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"},
}

// Locale returns the month table for a locale tag, falling back to Spanish
// (the catalog's own language) for unknown tags.
func Locale(tag string) MonthLocale {
	if loc, ok := monthLocales[strings.ToLower(tag)]; ok {
		return loc
	}
	return monthLocales["es"]
}

func (l MonthLocale) Name(m time.Month) string {
	return l[int(m)-1]
}

// Normalize maps raw records to CourseRecords. The input is not mutated; a
// new slice is returned. Records lacking a usable id or start date are
// silently dropped.
func Normalize(raws []domain.RawRecord, loc MonthLocale) []domain.CourseRecord {
	out := make([]domain.CourseRecord, 0, len(raws))

	for _, raw := range raws {
		id := canonicalID(raw[fieldID])
		if id == "" {
			continue
		}

		start, ok := parseStartDate(raw[fieldStartDate])
		if !ok {
			continue
		}

		out = append(out, domain.CourseRecord{
			ID:        id,
			ProjectID: canonicalID(raw[fieldProjectID]),
			Title:     stringField(raw[fieldTitle]),
			StartDate: start,
			Year:      start.Year(),
			Month:     loc.Name(start.Month()),
		})
	}

	return out
}

// RecordID extracts the canonical id of a raw record without running the
// full normalization, for callers that need the join key early (e.g. to
// address a detail fetch).
func RecordID(raw domain.RawRecord) string {
	return canonicalID(raw[fieldID])
}

// canonicalID collapses numeric and string ids to one textual form so a
// fetched 1234 and a persisted "1234" join to the same overlay entry.
func canonicalID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		if id != math.Trunc(id) {
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
		return strconv.FormatInt(int64(id), 10)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

func stringField(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func parseStartDate(v any) (time.Time, bool) {
	s := stringField(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
