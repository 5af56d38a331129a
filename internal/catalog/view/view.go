// Package view is the pure filter/sort engine over joined course rows. It
// does no I/O and never mutates its input; every call returns a new slice.
package view

import (
	"sort"
	"strings"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
)

// Tri is a three-way flag filter: no constraint, match-true or match-false.
type Tri int

const (
	TriAny Tri = iota
	TriTrue
	TriFalse
)

// ParseTri maps the wire form ("any", "true", "false") to a Tri. Unknown
// values fall back to TriAny.
func ParseTri(s string) Tri {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return TriTrue
	case "false", "0", "no":
		return TriFalse
	default:
		return TriAny
	}
}

// Sortable fields.
const (
	SortByStartDate = "startDate"
	SortByProjectID = "projectId"
	SortByTitle     = "title"
	SortByID        = "id"
	SortByYear      = "year"
)

// SortSpec names the sort field and its direction for one render.
type SortSpec struct {
	Field     string
	Ascending bool
}

// SortState holds the per-field direction toggles a presentation layer
// keeps across re-renders. The direction is keyed by field name: switching
// to another field and back preserves the previous direction.
type SortState map[string]bool

// Toggle flips the direction for field (first use sorts ascending) and
// returns the resulting spec.
func (s SortState) Toggle(field string) SortSpec {
	asc, seen := s[field]
	if seen {
		asc = !asc
	} else {
		asc = true
	}
	s[field] = asc
	return SortSpec{Field: field, Ascending: asc}
}

// Spec returns the current spec for field without changing any state.
func (s SortState) Spec(field string) SortSpec {
	asc, seen := s[field]
	if !seen {
		asc = true
	}
	return SortSpec{Field: field, Ascending: asc}
}

// Criteria is one view over the joined catalog. Filters compose as a
// logical AND and are commutative.
//
// Months distinguishes "unset" from "explicitly empty": a nil slice means
// all months pass, an empty non-nil slice means no record passes.
type Criteria struct {
	Search string
	Year   int // 0 means all years
	Months []string
	Flags  map[string]Tri
	Sort   SortSpec
}

// Apply filters and sorts courses according to the criteria.
func Apply(courses []domain.Course, c Criteria) []domain.Course {
	out := make([]domain.Course, 0, len(courses))

	search := strings.ToLower(strings.TrimSpace(c.Search))
	months := monthSet(c.Months)

	for _, course := range courses {
		if search != "" && !strings.Contains(strings.ToLower(course.Title), search) {
			continue
		}
		if c.Year != 0 && course.Year != c.Year {
			continue
		}
		if months != nil {
			if _, ok := months[strings.ToLower(course.Month)]; !ok {
				continue
			}
		}
		if !matchFlags(course, c.Flags) {
			continue
		}
		out = append(out, course)
	}

	sortCourses(out, c.Sort)
	return out
}

func monthSet(months []string) map[string]struct{} {
	if months == nil {
		return nil
	}
	set := make(map[string]struct{}, len(months))
	for _, m := range months {
		set[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return set
}

func matchFlags(course domain.Course, filters map[string]Tri) bool {
	for name, tri := range filters {
		if tri == TriAny {
			continue
		}
		// A missing entry or flag reads as false.
		value := course.Flags[name]
		if tri == TriTrue && !value {
			return false
		}
		if tri == TriFalse && value {
			return false
		}
	}
	return true
}

func sortCourses(courses []domain.Course, spec SortSpec) {
	if spec.Field == "" {
		return
	}

	sort.SliceStable(courses, func(i, j int) bool {
		a, b := courses[i], courses[j]

		nullA, nullB := keyNull(a, spec.Field), keyNull(b, spec.Field)
		if nullA != nullB {
			// Null keys sort last regardless of direction.
			return !nullA
		}
		if nullA {
			return false
		}

		less, equal := keyLess(a, b, spec.Field)
		if equal {
			return false
		}
		if spec.Ascending {
			return less
		}
		return !less
	})
}

func keyNull(c domain.Course, field string) bool {
	switch field {
	case SortByStartDate:
		return c.StartDate.IsZero()
	case SortByProjectID:
		return c.ProjectID == ""
	case SortByTitle:
		return c.Title == ""
	default:
		return false
	}
}

func keyLess(a, b domain.Course, field string) (less, equal bool) {
	switch field {
	case SortByStartDate:
		if a.StartDate.Equal(b.StartDate) {
			return false, true
		}
		return a.StartDate.Before(b.StartDate), false
	case SortByProjectID:
		return strLess(a.ProjectID, b.ProjectID)
	case SortByTitle:
		return strLess(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case SortByID:
		return strLess(a.ID, b.ID)
	case SortByYear:
		if a.Year == b.Year {
			return false, true
		}
		return a.Year < b.Year, false
	default:
		return false, true
	}
}

func strLess(a, b string) (less, equal bool) {
	if a == b {
		return false, true
	}
	return a < b, false
}
