package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/facebookgo/httpdown"
	raven "github.com/getsentry/raven-go"

	"github.com/shisoft/changetx/consensus"
	"github.com/shisoft/changetx/fsfront"
	"github.com/shisoft/changetx/store"
	"github.com/shisoft/changetx/transfer"
	"github.com/shisoft/changetx/wire"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a cted TOML config file")
		deleteArg  = flag.String("delete", "", "administratively remove a stored version, given as key:version, then exit")
		putArg     = flag.String("put", "", "read stdin as new content for key, then exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("cted: reading config: %v", err)
	}

	s, err := store.New(cfg.StorageDir)
	if err != nil {
		log.Fatalf("cted: opening storage dir %s: %v", cfg.StorageDir, err)
	}

	if *deleteArg != "" {
		runDelete(transfer.New(s, nil, consensus.NopNotifier{}), *deleteArg)
		return
	}

	client := wire.NewClient(cfg.Peers, nil)
	engine := transfer.New(s, client, consensus.NopNotifier{})
	client.Handler = engine

	if *putArg != "" {
		runPut(engine, *putArg)
		return
	}

	tickEvery, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		log.Fatalf("cted: parsing tick_interval %q: %v", cfg.TickInterval, err)
	}

	done := make(chan struct{})
	go tickLoop(engine, tickEvery, done)
	defer close(done)

	wireServer := &wire.Server{Handler: engine}

	log.Printf("cted: listening on :%s, storage at %s", cfg.Port, cfg.StorageDir)
	h := httpdown.HTTP{}
	server, err := h.ListenAndServe(&http.Server{
		Addr:    ":" + cfg.Port,
		Handler: wireServer.Routes(),
	})
	if err != nil {
		log.Fatalln(err)
	}
	if err := server.Wait(); err != nil {
		logError(err)
		log.Fatalln(err)
	}
}

func tickLoop(engine *transfer.Engine, every time.Duration, done <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			engine.Tick()
		case <-done:
			return
		}
	}
}

func runDelete(engine *transfer.Engine, arg string) {
	key, version, ok := strings.Cut(arg, ":")
	if !ok {
		fmt.Fprintf(os.Stderr, "cted: -delete wants key:version, got %q\n", arg)
		os.Exit(1)
	}
	if err := engine.Kill(key, version); err != nil {
		fmt.Fprintf(os.Stderr, "cted: deleting (%s, %s): %v\n", key, version, err)
		os.Exit(1)
	}
	fmt.Printf("cted: deleted (%s, %s)\n", key, version)
}

// runPut stores stdin as a new version under key, through the same
// fsfront.Front surface the replicated filesystem's front end would
// use to do the same thing.
func runPut(front fsfront.Front, key string) {
	version, err := front.Add(key, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cted: adding content for %s: %v\n", key, err)
		os.Exit(1)
	}
	fmt.Printf("cted: stored (%s, %s)\n", key, version)
}

func logError(err error) {
	raven.CaptureError(err, nil)
}
