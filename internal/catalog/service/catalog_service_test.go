package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/view"
	"github.com/cfp-titulos/titulos-backend/internal/overlay"
)

type fakeFetcher struct {
	summaries    []domain.RawRecord
	summariesErr error
	details      map[string]domain.RawRecord
	detailErrs   map[string]error
	detailCalls  int
}

func (f *fakeFetcher) FetchSummaries(ctx context.Context) ([]domain.RawRecord, error) {
	if f.summariesErr != nil {
		return nil, f.summariesErr
	}
	return f.summaries, nil
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, id string) (domain.RawRecord, error) {
	f.detailCalls++
	if err, ok := f.detailErrs[id]; ok {
		return nil, err
	}
	if detail, ok := f.details[id]; ok {
		return detail, nil
	}
	return domain.RawRecord{}, nil
}

type fakeCache struct {
	fresh    []domain.RawRecord
	lastGood []domain.RawRecord
	setCalls int
}

func (c *fakeCache) Get(ctx context.Context) ([]domain.RawRecord, bool) {
	return c.fresh, c.fresh != nil
}

func (c *fakeCache) LastGood(ctx context.Context) ([]domain.RawRecord, bool) {
	return c.lastGood, c.lastGood != nil
}

func (c *fakeCache) Set(ctx context.Context, records []domain.RawRecord) error {
	c.setCalls++
	c.fresh = records
	c.lastGood = records
	return nil
}

func newFileService(t *testing.T, fetcher Fetcher, opts Options) (*CatalogService, string) {
	path := filepath.Join(t.TempDir(), "estado.json")
	store := overlay.NewFileStore(path)
	return NewCatalogService(fetcher, store, nil, opts), path
}

func TestRefresh_FirstCycle(t *testing.T) {
	// Empty store on disk; two records fetched, one without a start date.
	fetcher := &fakeFetcher{summaries: []domain.RawRecord{
		{"idCurso": "10", "nombreCurso": "Curso A", "fechaInicio": "01/03/2024"},
		{"idCurso": "20", "nombreCurso": "Curso B"},
	}}
	svc, path := newFileService(t, fetcher, Options{})

	result, err := svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, overlay.OriginAbsent, result.StoreOrigin)
	require.Len(t, result.Courses, 1)

	got := result.Courses[0]
	assert.Equal(t, "10", got.ID)
	assert.Equal(t, 2024, got.Year)
	assert.Equal(t, "marzo", got.Month)
	assert.Equal(t, overlay.Flags{"published": false, "designed": false}, got.Flags)

	// Defaults are synthesized, never written until first edited.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// User publishes course 10.
	flags, err := svc.PatchFlags(context.Background(), "10", map[string]bool{"published": true})
	require.NoError(t, err)
	assert.Equal(t, overlay.Flags{"published": true, "designed": false}, flags)

	persisted, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"10": {"published": true, "designed": false}}`, string(persisted))
}

func TestRefresh_OutOfViewEntriesSurvive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estado.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"5": {"published": true}}`), 0o644))
	store := overlay.NewFileStore(path)

	fetcher := &fakeFetcher{summaries: []domain.RawRecord{
		{"idCurso": "10", "nombreCurso": "Curso A", "fechaInicio": "01/03/2024"},
	}}
	svc := NewCatalogService(fetcher, store, nil, Options{})

	result, err := svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	// A year filter that excludes everything: id "5" is nowhere in view.
	filtered := svc.View(result.Courses, view.Criteria{Year: 1999})
	require.Empty(t, filtered)

	// The user edits a different record and saves.
	_, err = svc.SetFlags(context.Background(), map[string]overlay.Flags{
		"10": {"published": true, "designed": true},
	})
	require.NoError(t, err)

	persisted, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"5": {"published": true},
		"10": {"published": true, "designed": true}
	}`, string(persisted))
}

func TestRefresh_CorruptOverlayIsObservable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estado.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	fetcher := &fakeFetcher{summaries: []domain.RawRecord{
		{"idCurso": "10", "fechaInicio": "01/03/2024"},
	}}
	svc := NewCatalogService(fetcher, overlay.NewFileStore(path), nil, Options{})

	result, err := svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, overlay.OriginCorrupt, result.StoreOrigin)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "overlay", result.Warnings[0].Stage)
	require.Len(t, result.Courses, 1)
	assert.Equal(t, overlay.Flags{"published": false, "designed": false}, result.Courses[0].Flags)
}

func TestRefresh_DetailFailureDropsOnlyThatRecord(t *testing.T) {
	fetcher := &fakeFetcher{
		summaries: []domain.RawRecord{
			{"idCurso": "10", "nombreCurso": "Curso A", "fechaInicio": "01/03/2024"},
			{"idCurso": "20", "nombreCurso": "Curso B", "fechaInicio": "15/04/2024"},
		},
		details: map[string]domain.RawRecord{
			"10": {"publicidad_web": "https://example.org"},
		},
		detailErrs: map[string]error{
			"20": errors.New("detail endpoint down"),
		},
	}
	svc, _ := newFileService(t, fetcher, Options{DetailEnabled: true, DetailRate: 1000, DetailBurst: 10})

	result, err := svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	// The record whose detail failed is skipped with a warning; the rest
	// of the batch proceeds.
	require.Len(t, result.Courses, 1)
	assert.Equal(t, "10", result.Courses[0].ID)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "20", result.Warnings[0].CourseID)
	assert.Equal(t, "detail", result.Warnings[0].Stage)
	assert.Equal(t, 2, fetcher.detailCalls)
}

func TestRefresh_SummaryFailure(t *testing.T) {
	t.Run("fatal without a cached snapshot", func(t *testing.T) {
		fetcher := &fakeFetcher{summariesErr: errors.New("connection refused")}
		svc, _ := newFileService(t, fetcher, Options{})

		_, err := svc.Refresh(context.Background(), false)
		require.Error(t, err)
	})

	t.Run("fatal even with a warm last-good snapshot", func(t *testing.T) {
		fetcher := &fakeFetcher{summaries: []domain.RawRecord{
			{"idCurso": "10", "fechaInicio": "01/03/2024"},
		}}
		cache := &fakeCache{}
		store := overlay.NewFileStore(filepath.Join(t.TempDir(), "estado.json"))
		svc := NewCatalogService(fetcher, store, cache, Options{})

		// Warm the cache with a successful cycle.
		_, err := svc.Refresh(context.Background(), true)
		require.NoError(t, err)
		require.Equal(t, 1, cache.setCalls)

		// Remote goes away; the fresh-cache is bypassed with force. The
		// warm fallback snapshot must not mask the outage.
		fetcher.summariesErr = errors.New("connection refused")
		cache.fresh = nil

		_, err = svc.Refresh(context.Background(), true)
		require.Error(t, err)
	})

	t.Run("last good snapshot is an explicit opt-in", func(t *testing.T) {
		fetcher := &fakeFetcher{summaries: []domain.RawRecord{
			{"idCurso": "10", "fechaInicio": "01/03/2024"},
		}}
		cache := &fakeCache{}
		store := overlay.NewFileStore(filepath.Join(t.TempDir(), "estado.json"))
		svc := NewCatalogService(fetcher, store, cache, Options{})

		_, err := svc.Refresh(context.Background(), true)
		require.NoError(t, err)

		fetcher.summariesErr = errors.New("connection refused")
		cache.fresh = nil

		result, err := svc.LastGood(context.Background())
		require.NoError(t, err)
		assert.True(t, result.FromCache)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, "fetch", result.Warnings[0].Stage)
		assert.Len(t, result.Courses, 1)
	})

	t.Run("no snapshot to fall back on", func(t *testing.T) {
		svc, _ := newFileService(t, &fakeFetcher{}, Options{})

		_, err := svc.LastGood(context.Background())
		require.ErrorIs(t, err, ErrNoSnapshot)

		svcWithCache := NewCatalogService(&fakeFetcher{},
			overlay.NewFileStore(filepath.Join(t.TempDir(), "estado.json")),
			&fakeCache{}, Options{})
		_, err = svcWithCache.LastGood(context.Background())
		require.ErrorIs(t, err, ErrNoSnapshot)
	})

	t.Run("cached snapshot skips the fetch entirely", func(t *testing.T) {
		fetcher := &fakeFetcher{summariesErr: errors.New("should not be called")}
		cache := &fakeCache{fresh: []domain.RawRecord{
			{"idCurso": "10", "fechaInicio": "01/03/2024"},
		}}
		store := overlay.NewFileStore(filepath.Join(t.TempDir(), "estado.json"))
		svc := NewCatalogService(fetcher, store, cache, Options{})

		result, err := svc.Refresh(context.Background(), false)
		require.NoError(t, err)
		assert.True(t, result.FromCache)
		assert.Len(t, result.Courses, 1)
	})
}

func TestImportExport(t *testing.T) {
	ctx := context.Background()

	t.Run("import export round trip", func(t *testing.T) {
		svc, _ := newFileService(t, &fakeFetcher{}, Options{})

		_, err := svc.SetFlags(ctx, map[string]overlay.Flags{
			"10": {"published": true, "designed": false},
			"20": {"published": false, "designed": true, "archived": true},
		})
		require.NoError(t, err)

		blob, err := svc.Export(ctx)
		require.NoError(t, err)

		again, err := svc.Export(ctx)
		require.NoError(t, err)
		assert.Equal(t, blob, again, "repeated exports must be byte-identical")

		require.NoError(t, svc.Import(ctx, blob))

		final, err := svc.Export(ctx)
		require.NoError(t, err)
		assert.Equal(t, blob, final)
	})

	t.Run("failed import leaves the store untouched", func(t *testing.T) {
		svc, path := newFileService(t, &fakeFetcher{}, Options{})

		_, err := svc.SetFlags(ctx, map[string]overlay.Flags{"10": {"published": true}})
		require.NoError(t, err)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		err = svc.Import(ctx, []byte(`{"10": "not an object"}`))
		require.ErrorIs(t, err, overlay.ErrImport)

		// A bare null would otherwise decode to an empty mapping and wipe
		// every entry.
		err = svc.Import(ctx, []byte(`null`))
		require.ErrorIs(t, err, overlay.ErrImport)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("export is whole-store regardless of views", func(t *testing.T) {
		svc, _ := newFileService(t, &fakeFetcher{}, Options{})

		_, err := svc.SetFlags(ctx, map[string]overlay.Flags{
			"1": {"published": true},
			"2": {"designed": true},
		})
		require.NoError(t, err)

		blob, err := svc.Export(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"1": {"published": true},
			"2": {"designed": true}
		}`, string(blob))
	})
}
