package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"eventcast/internal/client"
	"eventcast/internal/core/domain"
	"eventcast/internal/player"
	"eventcast/pkg/logger"
	"eventcast/pkg/utils"
	"eventcast/pkg/validation"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub websocket url")
	eventID := flag.String("event", "", "event id to listen to")
	slug := flag.String("slug", "", "event slug")
	token := flag.String("token", "", "event access token")
	identity := flag.String("identity", "", "identity token of a signed-in user")
	out := flag.String("out", "listener.wav", "WAV file the played audio is rendered into")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	zapLogger := logger.New(*level, "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *eventID == "" {
		log.Fatal("-event is required")
	}
	if err := validation.ValidateURL(*url); err != nil {
		log.Fatalw("Invalid -url", "url", *url, "error", err)
	}
	if *token != "" {
		log.Debugw("Using event access token", "token", utils.MaskSensitive(*token, 8))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *url, *identity, log)
	cancelDial()
	if err != nil {
		log.Fatalw("Failed to connect", "error", err)
	}
	defer conn.Close()

	output := player.NewWAVOutput(*out, log)
	scheduler := player.NewScheduler(player.DefaultConfig(), player.NewWallClock(), output, log)
	listener := client.NewListener(conn, scheduler, log)

	join, err := listener.Join(ctx, domain.EventID(*eventID), *slug, *token)
	if err != nil {
		log.Fatalw("Failed to join", "event_id", *eventID, "error", err)
	}
	if !join.Allowed {
		log.Fatalw("Join denied", "event_id", *eventID, "reason", join.Reason)
	}
	if !join.Live {
		log.Infow("Waiting for the stream to start", "event_id", *eventID)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	go func() {
		select {
		case <-conn.Done():
			log.Warnw("Connection lost", "error", conn.Err())
		case <-runCtx.Done():
		}
		cancelRun()
	}()
	scheduler.Run(runCtx)

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 2*time.Second)
	if err := listener.Leave(leaveCtx); err != nil {
		log.Debugw("Leave failed", "error", err)
	}
	cancelLeave()

	if err := output.Close(); err != nil {
		log.Errorw("Failed to write output", "path", *out, "error", err)
	}

	stats := scheduler.Stats()
	log.Infow("Listener stopped",
		"chunks", listener.Chunks(),
		"scheduled", stats.Scheduled,
		"dropped", stats.Dropped,
		"sped_up", stats.SpedUp,
		"underruns", stats.Underruns,
		"invalid", stats.Invalid,
		"rendered", utils.FormatSampleDuration(output.Samples(), output.SampleRate()),
		"output", *out,
	)
}
