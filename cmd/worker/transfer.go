package main

import (
	"context"
	"log"
	"os"
	"time"
)

// RunExport writes the full overlay mapping to a file, regardless of any
// filter state anywhere. This doubles as the manual backup against the
// store's lenient corrupt-file recovery.
func RunExport(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: worker export <path>")
	}
	path := args[0]

	svc, cleanup := buildService()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blob, err := svc.Export(ctx)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	if err := os.WriteFile(path, blob, 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	log.Printf("overlay exported to %s (%d bytes)", path, len(blob))
}

// RunImport validates and installs an overlay mapping from a file. The
// active store is untouched when validation fails.
func RunImport(args []string) {
	if len(args) < 1 {
		log.Fatal("usage: worker import <path>")
	}
	path := args[0]

	blob, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	svc, cleanup := buildService()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Import(ctx, blob); err != nil {
		log.Fatalf("import failed: %v", err)
	}
	log.Printf("overlay imported from %s", path)
}
