package domain

import (
	"time"

	"github.com/cfp-titulos/titulos-backend/internal/overlay"
)

// RawRecord is one unvalidated object as returned by the remote catalog,
// either a summary from the listing endpoint or a flattened detail object.
type RawRecord map[string]any

// CourseRecord is the normalized, ephemeral shape of one catalog entry.
// It is rebuilt on every fetch; the only stable part is the ID, which is
// the join key into the overlay store.
type CourseRecord struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	Title     string    `json:"title"`
	StartDate time.Time `json:"start_date"`
	Year      int       `json:"year"`
	Month     string    `json:"month"`
}

// Course is the joined projection handed to views and the presentation
// layer: a normalized record plus its overlay flags. Records with no
// persisted entry carry synthesized all-false flags.
type Course struct {
	CourseRecord
	Flags overlay.Flags `json:"flags"`
}

// Warning is a recoverable, per-record problem produced during a refresh
// cycle. Warnings never abort the cycle.
type Warning struct {
	CourseID string `json:"course_id,omitempty"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}
