package main

import (
	"log"
	"os"
	"os/signal"
	"sync"

	"metaget/cache"
	"metaget/engine"
	"metaget/magnet"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: metaget <magnet-uri> [cache-dir]")
	}
	uri := os.Args[1]
	var cacheDir string
	if len(os.Args) > 2 {
		cacheDir = os.Args[2]
	}

	d, err := magnet.Parse(uri)
	if err != nil {
		log.Fatal(err)
	}

	store, err := cache.NewStore(cacheDir)
	if err != nil {
		log.Fatal(err)
	}

	cfg := engine.DefaultConfig
	cfg.CacheDir = cacheDir

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }
	sink := &cliSink{done: closeDone}
	e := engine.New(d, cfg, store, sink)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	go func() {
		<-sigc
		e.Stop()
		closeDone()
	}()

	e.Start()
	<-done
}

// cliSink reports progress, completion and failure through the standard
// logger (stderr) and unblocks
// main once the engine reaches a terminal outcome, matching the teacher's
// main.go treating download completion as the end of the process.
type cliSink struct {
	done func()
}

func (s *cliSink) OnProgress(percent int) {
	log.Printf("progress: %d%%", percent)
}

func (s *cliSink) OnComplete(metadata []byte) {
	log.Printf("metadata acquired: %d bytes", len(metadata))
	s.done()
}

func (s *cliSink) OnFailed(reason string) {
	log.Printf("failed: %s", reason)
	s.done()
}
