package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wallnav.ai/internal/persistence/indexdb"
)

// indexPath is where navsim keeps its run index under the data directory.
func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "runs.sqlite")
}

func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("WN_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(dataDir))
	default:
		return nil, fmt.Errorf("unsupported WN_INDEX_BACKEND: %s", backend)
	}
}
