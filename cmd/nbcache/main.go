// Command nbcache is the optional cache companion: a small HTTP service a
// build driver can consult before running a rule, and record a result
// with afterward, to skip work another machine (or an earlier run on the
// same machine) already did. It never runs a build itself.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:8361", "address to listen on")
	dbPath := flag.String("db", "nbcache.db", "sqlite database path")
	dir := flag.String("dir", "blobs", "directory blob files are stored under")
	sweepEvery := flag.Duration("sweep", 5*time.Minute, "how often to sweep expired entries")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("nbcache: creating blob dir: %v", err)
	}
	if err := openDB(*dbPath); err != nil {
		log.Fatalf("nbcache: opening database: %v", err)
	}
	if err := openSweepConn(*dbPath); err != nil {
		log.Fatalf("nbcache: opening sweep connection: %v", err)
	}
	if err := startSweepSchedule(filepath.Clean(*dir), *sweepEvery); err != nil {
		log.Fatalf("nbcache: starting sweep schedule: %v", err)
	}

	go func() {
		if err := serve(*addr, *dir); err != nil {
			log.Fatalf("nbcache: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	log.Println("nbcache: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(ctx); err != nil {
		log.Printf("nbcache: shutdown: %v", err)
	}
	if err := stopSweepSchedule(); err != nil {
		log.Printf("nbcache: stopping sweep schedule: %v", err)
	}
	if err := closeSweepConn(); err != nil {
		log.Printf("nbcache: closing sweep connection: %v", err)
	}
}
