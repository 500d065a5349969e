// Command playbackd serves multi-stream vehicle playback: live positions,
// historical replay and dashcam video kept on one virtual clock.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/internal/logging"
)

// BuildDate can be set at build time via ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const appName = "playbackd"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [-config DIR] [command]

Commands:
  serve                          run the daemon (default)
  replay VEHICLE FROM TO [STEP]  print the resolved replay timeline (epoch seconds)
  import FILE                    load a fleet document into storage
  version                        print version
`, appName)
	flag.PrintDefaults()
}

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
		args = args[1:]
	}

	if cmd == "version" {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildDate)
		return
	}

	if err := config.Load(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx)
	case "replay":
		err = replayCmd(ctx, os.Stdout, args)
	case "import":
		err = importCmd(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func newApp() *app {
	return &app{startedAt: time.Now(), slogManager: logging.NewSlogManager()}
}

func serve(ctx context.Context) error {
	a := newApp()
	defer a.shutdown()

	if err := a.setupLogging(); err != nil {
		return err
	}
	a.logger.Info("Starting up", "version", Version, "buildDate", BuildDate)

	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	a.setupInflux(ctx)
	if err := a.setupPlayback(ctx); err != nil {
		return err
	}
	return a.run(ctx)
}
