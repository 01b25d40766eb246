package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	coapd "github.com/coapworks/coapd"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "Path to a JSON config file overriding the defaults")
	listenAddr = flag.String("listen", "", "UDP listen address, e.g. :5683 (overrides config)")
	textFile   = flag.String("text-file", "", "Path to the text file backing GET/iPATCH/FETCH /file (overrides config)")
	imageFile  = flag.String("image-file", "", "Path to the image file backing GET /file?type=image (overrides config)")
	snapshot   = flag.String("snapshot", "", "Optional path to persist the Observe subscriber table across restarts")

	fetchPeer  = flag.String("fetch-peer", "", "If set, also act as client role: fetch a file from this peer address (e.g. 10.0.0.5:5683) on startup")
	fetchPath  = flag.String("fetch-path", "/file", "Remote path to request when -fetch-peer is set")
	fetchOut   = flag.String("fetch-out", "", "Local path to write the downloaded blocks to when -fetch-peer is set")
	fetchImage = flag.Bool("fetch-image", false, "Request the image variant (?type=image) when -fetch-peer is set")
)

func main() {
	flag.Parse()

	cfg := coapd.DefaultConfig()
	if *configPath != "" {
		loaded, err := coapd.LoadConfig(*configPath)
		if err != nil {
			logrus.WithError(err).Panicf("failed to load config %s", *configPath)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *textFile != "" {
		cfg.TextFilePath = *textFile
	}
	if *imageFile != "" {
		cfg.ImageFilePath = *imageFile
	}
	if *snapshot != "" {
		cfg.SnapshotPath = *snapshot
	}

	log := coapd.NewLogger()
	ep, err := coapd.NewEndpoint(cfg, coapd.NewOSFilesystem(), log)
	if err != nil {
		logrus.WithError(err).Panicf("failed to build endpoint on %s", cfg.ListenAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *fetchPeer != "" {
		if *fetchOut == "" {
			logrus.Panic("-fetch-out is required when -fetch-peer is set")
		}
		go func() {
			if err := ep.FetchFile(*fetchPeer, *fetchPath, *fetchOut, *fetchImage); err != nil {
				logrus.WithError(err).Errorf("client role: fetching %s from %s", *fetchPath, *fetchPeer)
			}
		}()
	}

	logrus.Infof("coapd listening on %s", cfg.ListenAddr)
	if err := ep.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Panicf("endpoint exited")
	}
}
