package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cfp-titulos/titulos-backend/internal/catalog/domain"
	"github.com/cfp-titulos/titulos-backend/internal/catalog/view"
)

// RunRefresh runs one full cycle and prints the filtered view as a table.
func RunRefresh(args []string) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	search := fs.String("search", "", "case-insensitive title substring")
	year := fs.Int("year", 0, "exact start year (0 = all)")
	months := fs.String("months", "", "comma-separated month names (empty = all)")
	published := fs.String("published", "any", "published filter: any|true|false")
	designed := fs.String("designed", "any", "designed filter: any|true|false")
	sortField := fs.String("sort", view.SortByStartDate, "sort field: startDate|projectId|title|id|year")
	desc := fs.Bool("desc", false, "sort descending")
	force := fs.Bool("force", false, "bypass the snapshot cache")
	stale := fs.Bool("stale", false, "fall back to the last good snapshot if the fetch fails")
	fs.Parse(args)

	svc, cleanup := buildService()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := svc.Refresh(ctx, *force)
	if err != nil && *stale {
		log.Printf("[warn] refresh failed, trying the last good snapshot: %v", err)
		result, err = svc.LastGood(ctx)
	}
	if err != nil {
		log.Fatalf("refresh failed: %v", err)
	}

	criteria := view.Criteria{
		Search: *search,
		Year:   *year,
		Flags: map[string]view.Tri{
			"published": view.ParseTri(*published),
			"designed":  view.ParseTri(*designed),
		},
		Sort: view.SortSpec{Field: *sortField, Ascending: !*desc},
	}
	if *months != "" {
		criteria.Months = strings.Split(*months, ",")
	}

	courses := svc.View(result.Courses, criteria)

	for _, w := range result.Warnings {
		log.Printf("[warn] stage=%s course_id=%s %s", w.Stage, w.CourseID, w.Message)
	}

	printTable(courses)
	fmt.Printf("\n%d courses (run %s, from_cache=%t, overlay=%s)\n",
		len(courses), result.RunID, result.FromCache, result.StoreOrigin)
}

func printTable(courses []domain.Course) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		"ID", "PROYECTO", "TITULO", "INICIO", "MES", "PUB", "DIS")

	for _, c := range courses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.ProjectID,
			truncate(c.Title, 60),
			c.StartDate.Format("02/01/2006"),
			c.Month,
			mark(c.Flags["published"]),
			mark(c.Flags["designed"]),
		)
	}

	if err := tw.Flush(); err != nil {
		log.Printf("table flush: %v", err)
	}
}

func mark(b bool) string {
	if b {
		return "x"
	}
	return "-"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
