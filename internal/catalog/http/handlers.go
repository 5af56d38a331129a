// Package http exposes the catalog and overlay operations to the
// presentation layer over gin.
package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/service"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/view"
	"github.com/cfp-titulos/titulos-backend/internal/overlay"
)

type Handler struct {
	svc *service.CatalogService
}

func Register(rg *gin.RouterGroup, svc *service.CatalogService) {
	h := &Handler{svc: svc}

	rg.GET("/courses", h.listCourses)
	rg.PATCH("/courses/:id/flags", h.patchFlags)
	rg.POST("/overlay/flags", h.setFlags)
	rg.GET("/overlay/export", h.exportOverlay)
	rg.POST("/overlay/import", h.importOverlay)
	rg.POST("/refresh", h.forceRefresh)
}

func (h *Handler) listCourses(c *gin.Context) {
	criteria, err := criteriaFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	result, err := h.svc.Refresh(c.Request.Context(), c.Query("force") == "true")
	if err != nil {
		// stale=true serves the last successfully fetched catalog instead
		// of failing; without it an outage is always surfaced.
		if c.Query("stale") == "true" {
			if fallback, lgErr := h.svc.LastGood(c.Request.Context()); lgErr == nil {
				h.renderCourses(c, fallback, criteria)
				return
			}
		}
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		return
	}

	h.renderCourses(c, result, criteria)
}

func (h *Handler) renderCourses(c *gin.Context, result *service.RefreshResult, criteria view.Criteria) {
	courses := h.svc.View(result.Courses, criteria)

	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"run_id":       result.RunID,
		"fetched_at":   result.FetchedAt,
		"from_cache":   result.FromCache,
		"store_origin": result.StoreOrigin,
		"warnings":     result.Warnings,
		"count":        len(courses),
		"courses":      courses,
	})
}

// criteriaFromQuery builds view criteria from query params. The months
// param distinguishes unset (all months) from present-but-empty (none):
// "?months=" filters everything out, omitting the param filters nothing.
func criteriaFromQuery(c *gin.Context) (view.Criteria, error) {
	criteria := view.Criteria{
		Search: c.Query("search"),
		Flags: map[string]view.Tri{
			"published": view.ParseTri(c.DefaultQuery("published", "any")),
			"designed":  view.ParseTri(c.DefaultQuery("designed", "any")),
		},
	}

	if yearStr := c.Query("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return view.Criteria{}, fmt.Errorf("year must be an integer, got %q", yearStr)
		}
		criteria.Year = year
	}

	if monthsStr, present := c.GetQuery("months"); present {
		months := []string{}
		for _, m := range strings.Split(monthsStr, ",") {
			if m = strings.TrimSpace(m); m != "" {
				months = append(months, m)
			}
		}
		criteria.Months = months
	}

	if field := c.Query("sort"); field != "" {
		asc := true
		if ascStr := c.Query("asc"); ascStr != "" {
			asc, _ = strconv.ParseBool(ascStr)
		}
		criteria.Sort = view.SortSpec{Field: field, Ascending: asc}
	}

	return criteria, nil
}

func (h *Handler) patchFlags(c *gin.Context) {
	id := c.Param("id")

	var changes map[string]bool
	if err := c.ShouldBindJSON(&changes); err != nil || len(changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "body must be a non-empty object of boolean flags"})
		return
	}

	flags, err := h.svc.PatchFlags(c.Request.Context(), id, changes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id, "flags": flags})
}

// setFlags replaces whole entries for the submitted ids; entries for every
// other id are untouched (additive merge).
func (h *Handler) setFlags(c *gin.Context) {
	var edits map[string]overlay.Flags
	if err := c.ShouldBindJSON(&edits); err != nil || len(edits) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "body must be a non-empty mapping of id to flags"})
		return
	}

	snap, err := h.svc.SetFlags(c.Request.Context(), edits)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": len(snap.Entries)})
}

func (h *Handler) exportOverlay(c *gin.Context) {
	blob, err := h.svc.Export(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="estado_titulos.json"`)
	c.Data(http.StatusOK, "application/json", blob)
}

func (h *Handler) importOverlay(c *gin.Context) {
	blob, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable body"})
		return
	}

	if err := h.svc.Import(c.Request.Context(), blob); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, overlay.ErrImport) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) forceRefresh(c *gin.Context) {
	result, err := h.svc.Refresh(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"run_id":   result.RunID,
		"courses":  len(result.Courses),
		"warnings": result.Warnings,
	})
}
