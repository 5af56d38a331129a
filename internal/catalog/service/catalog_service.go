// Package service orchestrates one refresh cycle: fetch, normalize, join
// with the overlay snapshot, and route flag edits back through the store's
// merge. It is the only writer of overlay state.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/normalize"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/view"
	"github.com/cfp-titulos/titulos-backend/internal/overlay"
)

// ErrNoSnapshot is returned by LastGood when no previously fetched catalog
// is available to fall back on.
var ErrNoSnapshot = errors.New("no catalog snapshot available")

// Fetcher is the remote catalog client surface the service needs.
type Fetcher interface {
	FetchSummaries(ctx context.Context) ([]domain.RawRecord, error)
	FetchDetail(ctx context.Context, id string) (domain.RawRecord, error)
}

// SnapshotCache is the optional raw-summary cache surface.
type SnapshotCache interface {
	Get(ctx context.Context) ([]domain.RawRecord, bool)
	LastGood(ctx context.Context) ([]domain.RawRecord, bool)
	Set(ctx context.Context, records []domain.RawRecord) error
}

// Options tune the refresh cycle.
type Options struct {
	MonthLocale   string
	DetailEnabled bool
	DetailRate    float64 // detail requests per second
	DetailBurst   int
}

// CatalogService ties the fetcher, normalizer, overlay store and view
// engine into the per-cycle control flow.
type CatalogService struct {
	fetcher Fetcher
	store   overlay.Store
	cache   SnapshotCache
	locale  normalize.MonthLocale
	opts    Options
	limiter *rate.Limiter
}

// NewCatalogService creates the service. cache may be nil.
func NewCatalogService(fetcher Fetcher, store overlay.Store, cache SnapshotCache, opts Options) *CatalogService {
	burst := opts.DetailBurst
	if burst <= 0 {
		burst = 1
	}
	rps := opts.DetailRate
	if rps <= 0 {
		rps = 1
	}
	return &CatalogService{
		fetcher: fetcher,
		store:   store,
		cache:   cache,
		locale:  normalize.Locale(opts.MonthLocale),
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// RefreshResult is one complete joined catalog plus cycle metadata.
type RefreshResult struct {
	RunID       string           `json:"run_id"`
	FetchedAt   time.Time        `json:"fetched_at"`
	FromCache   bool             `json:"from_cache"`
	StoreOrigin overlay.Origin   `json:"store_origin"`
	Courses     []domain.Course  `json:"courses"`
	Warnings    []domain.Warning `json:"warnings"`
}

// Refresh runs one fetch → normalize → join cycle. force bypasses the
// fresh-snapshot cache. A failed summary fetch fails the whole cycle; no
// catalog is shown. Callers that want stale data after a failure opt in
// through LastGood.
func (s *CatalogService) Refresh(ctx context.Context, force bool) (*RefreshResult, error) {
	runID := uuid.New().String()
	logger := newRunLogger(runID)

	result := &RefreshResult{RunID: runID, FetchedAt: time.Now().UTC()}

	raws, fromCache, err := s.loadSummaries(ctx, force, logger)
	if err != nil {
		return nil, err
	}
	result.FromCache = fromCache

	if s.opts.DetailEnabled {
		raws = s.enrichWithDetails(ctx, raws, logger, result)
	}

	return s.assemble(ctx, raws, logger, result)
}

// LastGood serves the most recently fetched catalog after a failed Refresh.
// Stale data is never substituted silently; this is the explicit opt-in.
func (s *CatalogService) LastGood(ctx context.Context) (*RefreshResult, error) {
	runID := uuid.New().String()
	logger := newRunLogger(runID)

	result := &RefreshResult{RunID: runID, FetchedAt: time.Now().UTC(), FromCache: true}

	if s.cache == nil {
		return nil, ErrNoSnapshot
	}
	raws, ok := s.cache.LastGood(ctx)
	if !ok {
		return nil, ErrNoSnapshot
	}

	logger.Warnf("refresh", "serving last good snapshot of %d records", len(raws))
	result.Warnings = append(result.Warnings, domain.Warning{
		Stage:   "fetch",
		Message: "showing the last successfully fetched catalog; the remote may have changed since",
	})

	return s.assemble(ctx, raws, logger, result)
}

// assemble is the back half of a cycle: normalize, load the overlay and
// join. Shared by Refresh and LastGood.
func (s *CatalogService) assemble(ctx context.Context, raws []domain.RawRecord, logger *runLogger, result *RefreshResult) (*RefreshResult, error) {
	records := normalize.Normalize(raws, s.locale)
	logger.Infof("refresh", "fetched=%d normalized=%d dropped=%d from_cache=%t",
		len(raws), len(records), len(raws)-len(records), result.FromCache)

	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load overlay: %w", err)
	}
	result.StoreOrigin = snap.Origin
	switch snap.Origin {
	case overlay.OriginCorrupt:
		logger.Warnf("refresh", "overlay state was unparsable, starting from an empty mapping; prior edits are lost unless an export exists")
		result.Warnings = append(result.Warnings, domain.Warning{
			Stage:   "overlay",
			Message: "overlay state was unparsable and has been reset; restore from an export if available",
		})
	case overlay.OriginAbsent:
		logger.Infof("refresh", "no overlay state yet, all flags default to false")
	}

	result.Courses = joinOverlay(records, snap.Entries)
	return result, nil
}

func (s *CatalogService) loadSummaries(ctx context.Context, force bool, logger *runLogger) ([]domain.RawRecord, bool, error) {
	if !force && s.cache != nil {
		if raws, ok := s.cache.Get(ctx); ok {
			return raws, true, nil
		}
	}

	raws, err := s.fetcher.FetchSummaries(ctx)
	if err != nil {
		logger.Errorf("fetch", "summary fetch failed: %v", err)
		return nil, false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, raws); err != nil {
			logger.Warnf("fetch", "caching snapshot failed: %v", err)
		}
	}
	return raws, false, nil
}

// enrichWithDetails overlays each course's detail record onto its summary.
// A failed detail fetch drops that record from the batch with a warning;
// the remaining records proceed.
func (s *CatalogService) enrichWithDetails(ctx context.Context, raws []domain.RawRecord, logger *runLogger, result *RefreshResult) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(raws))

	for _, raw := range raws {
		id := normalize.RecordID(raw)
		if id == "" {
			out = append(out, raw)
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			logger.Warnf("detail", "course_id=%s rate limiter interrupted, record skipped: %v", id, err)
			result.Warnings = append(result.Warnings, domain.Warning{
				CourseID: id,
				Stage:    "detail",
				Message:  fmt.Sprintf("detail fetch interrupted, record skipped: %v", err),
			})
			continue
		}

		detail, err := s.fetcher.FetchDetail(ctx, id)
		if err != nil {
			logger.Warnf("detail", "course_id=%s detail fetch failed, record skipped: %v", id, err)
			result.Warnings = append(result.Warnings, domain.Warning{
				CourseID: id,
				Stage:    "detail",
				Message:  fmt.Sprintf("detail fetch failed, record skipped: %v", err),
			})
			continue
		}

		merged := make(domain.RawRecord, len(raw)+len(detail))
		for k, v := range detail {
			merged[k] = v
		}
		for k, v := range raw {
			merged[k] = v // summary wins; it carries the identity fields
		}
		out = append(out, merged)
	}

	return out
}

// joinOverlay attaches each record's overlay entry, synthesizing all-false
// known flags where the store has nothing. Stored entries are copied, never
// aliased, so view-layer mutation can't bypass Merge.
func joinOverlay(records []domain.CourseRecord, entries map[string]overlay.Flags) []domain.Course {
	courses := make([]domain.Course, 0, len(records))
	for _, rec := range records {
		flags := overlay.NewFlags()
		for name, value := range entries[rec.ID] {
			flags[name] = value
		}
		courses = append(courses, domain.Course{CourseRecord: rec, Flags: flags})
	}
	return courses
}

// View applies filter and sort criteria to a joined catalog.
func (s *CatalogService) View(courses []domain.Course, criteria view.Criteria) []domain.Course {
	return view.Apply(courses, criteria)
}

// SetFlags merges edited entries into the persisted mapping. Entries not
// present in edits are carried through unchanged, which is what keeps
// out-of-view records safe. On a version conflict the store is reloaded and
// the merge replayed once (last writer wins per edited id).
func (s *CatalogService) SetFlags(ctx context.Context, edits map[string]overlay.Flags) (overlay.Snapshot, error) {
	for attempt := 0; ; attempt++ {
		snap, err := s.store.Load(ctx)
		if err != nil {
			return overlay.Snapshot{}, fmt.Errorf("load overlay: %w", err)
		}

		snap.Entries = overlay.Merge(snap.Entries, edits)
		err = s.store.Save(ctx, &snap)
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, overlay.ErrVersionConflict) && attempt == 0 {
			continue
		}
		return overlay.Snapshot{}, fmt.Errorf("save overlay: %w", err)
	}
}

// PatchFlags applies a partial edit to a single entry: named flags change,
// the entry's other flags (known or not) stay as persisted.
func (s *CatalogService) PatchFlags(ctx context.Context, id string, changes map[string]bool) (overlay.Flags, error) {
	for attempt := 0; ; attempt++ {
		snap, err := s.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load overlay: %w", err)
		}

		entry := snap.Entries[id].Clone()
		if entry == nil {
			entry = overlay.NewFlags()
		}
		for name, value := range changes {
			entry[name] = value
		}

		snap.Entries = overlay.Merge(snap.Entries, map[string]overlay.Flags{id: entry})
		err = s.store.Save(ctx, &snap)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, overlay.ErrVersionConflict) && attempt == 0 {
			continue
		}
		return nil, fmt.Errorf("save overlay: %w", err)
	}
}

// Import replaces the whole persisted mapping with an externally supplied
// blob. A blob that fails validation leaves the store untouched.
func (s *CatalogService) Import(ctx context.Context, blob []byte) error {
	entries, err := overlay.Decode(blob)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		snap, err := s.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("load overlay: %w", err)
		}

		snap.Entries = entries
		err = s.store.Save(ctx, &snap)
		if err == nil {
			return nil
		}
		if errors.Is(err, overlay.ErrVersionConflict) && attempt == 0 {
			continue
		}
		return fmt.Errorf("save overlay: %w", err)
	}
}

// Export serializes the full persisted mapping, independent of any active
// filter or view.
func (s *CatalogService) Export(ctx context.Context) ([]byte, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load overlay: %w", err)
	}
	return overlay.Encode(snap.Entries)
}
