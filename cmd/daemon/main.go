package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"keybridge/go-daemon/internal/composition/daemonserver"
	"keybridge/go-daemon/internal/manifest"
)

var (
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", "", "listen address (overrides config)")
	configPath := flag.String("config", "", "path to config file")
	dataDir := flag.String("data-dir", "", "state directory (overrides config)")
	flag.Parse()

	if *showVersion {
		m := manifest.Bundled()
		version, err := m.Version()
		if err != nil {
			log.Fatalf("read version: %v", err)
		}
		name := m.Name()
		if name == "" {
			name = "keybridge"
		}
		fmt.Printf("%s %s (commit %s, built %s)\n", name, version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := daemonserver.NewServerWithOptions(*addr, *configPath, *dataDir)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	log.Println("keybridge starting")
	if err := srv.Run(ctx); err != nil {
		log.Println("server error:", err)
		os.Exit(1)
	}
	log.Println("keybridge stopped")
}
