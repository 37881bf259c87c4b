package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/tevino/abool/v2"
)

var sweepRunning = abool.NewBool(false)

// sweepExpired removes the blob and marks the row deleted for every cache
// entry whose last access plus its expiry window has passed. It is a
// no-op if a previous sweep is still in flight.
func sweepExpired(blobDir string) {
	if sweepRunning.IsSet() {
		return
	}
	sweepRunning.Set()
	defer sweepRunning.UnSet()

	rows, err := findExpiredRaw(2000)
	if err != nil {
		log.Printf("nbcache: expiry scan failed: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	var cleaned []int64
	for _, row := range rows {
		if err := os.Remove(filepath.Join(blobDir, row.paramsHash)); err != nil && !os.IsNotExist(err) {
			log.Printf("nbcache: removing blob %s: %v", row.paramsHash, err)
			continue
		}
		cleaned = append(cleaned, row.id)
	}
	if len(cleaned) == 0 {
		return
	}
	if err := markDeletedRaw(cleaned); err != nil {
		log.Printf("nbcache: marking %d entries deleted: %v", len(cleaned), err)
	}
}
