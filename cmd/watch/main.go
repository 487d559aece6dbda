// Command watch opens a single session with the configured ledger token and logs
// every view change until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/datnetwork/datmind/internal/identity"
	"github.com/datnetwork/datmind/internal/ledger"
	"github.com/datnetwork/datmind/internal/notify"
	"github.com/datnetwork/datmind/internal/session"
	"github.com/datnetwork/datmind/internal/views"
	"github.com/datnetwork/datmind/pkg/config"
	"github.com/datnetwork/datmind/pkg/logging"
	"github.com/datnetwork/datmind/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting datmind watcher")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	id, err := identity.NewResolver(cfg.Ledger.JWTSecret).Resolve(cfg.Ledger.Token)
	if err != nil {
		logger.Fatal("Failed to resolve ledger token", zap.Error(err))
	}

	client, err := ledger.New(&cfg.Ledger)
	if err != nil {
		logger.Fatal("Failed to create ledger client", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down watcher...")
		cancel()
	}()

	party := client.ForParty(id)
	partyLogger := logging.WithParty(id.Party)

	// One-shot lookup so a missing User contract is reported before streaming starts
	if profile, ok, err := party.Fetch(ctx, ledger.TemplateUser, id.Party); err != nil {
		partyLogger.Fatal("Failed to fetch profile", zap.Error(err))
	} else if !ok {
		partyLogger.Warn("No User contract for party; the profile stays empty until one is created")
	} else {
		partyLogger.Info("Profile found", zap.ByteString("profile", profile))
	}

	sess := session.Start(ctx, party, session.Options{
		Notifier:    notify.New(&cfg.Kafka),
		EventBuffer: cfg.Session.EventBuffer,
	})
	defer sess.Close()

	watch(ctx, sess, partyLogger)
	logger.Info("Watcher exited")
}

// watch logs a summary of every published views version until ctx is done
func watch(ctx context.Context, sess *session.Session, logger *zap.Logger) {
	var seen uint64
	for {
		v, err := sess.Wait(ctx, func(v *views.Views) bool { return v.Version > seen })
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Watch stopped", zap.Error(err))
			}
			return
		}
		seen = v.Version

		logger.Info("Views updated",
			zap.Uint64("version", v.Version),
			zap.Bool("profile_loaded", v.Profile.Loaded),
			zap.Stringer("network_status", v.Network.Status),
			zap.Int("followers", len(v.Followers.Entries)),
			zap.Int("following", len(v.Following.Parties)),
			zap.Int("incoming", len(v.Incoming.Requests)),
			zap.Int("outgoing", len(v.Outgoing.Requests)),
			zap.Stringer("gallery_status", v.Gallery.Status),
			zap.Int("tokens", len(v.Gallery.Tokens)),
			zap.Stringer("timeline_status", v.Timeline.Status),
			zap.Int("posts", len(v.Timeline.Entries)))
	}
}
