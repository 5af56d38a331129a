package main

import (
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: worker <refresh|export|import> [args]")
	}

	switch os.Args[1] {
	case "refresh":
		RunRefresh(os.Args[2:])
	case "export":
		RunExport(os.Args[2:])
	case "import":
		RunImport(os.Args[2:])
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}
