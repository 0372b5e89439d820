package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"eventcast/internal/client"
	"eventcast/internal/core/domain"
	"eventcast/internal/core/services"
	"eventcast/pkg/logger"
	"eventcast/pkg/utils"
	"eventcast/pkg/validation"

	"go.uber.org/zap"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub websocket url")
	eventID := flag.String("event", "", "event id to broadcast into")
	identity := flag.String("identity", "", "identity token of an organizer")
	wavPath := flag.String("wav", "", "mono PCM16 WAV file to stream")
	tone := flag.Float64("tone", 440, "frequency of the generated tone when no -wav is given")
	deviceRate := flag.Int("device-rate", 48000, "rate the generated tone is actually produced at")
	reportedRate := flag.Int("reported-rate", 0, "rate the tone source claims (defaults to -device-rate)")
	duration := flag.Duration("duration", 30*time.Second, "tone length (0 streams until interrupted)")
	block := flag.Int("block", 4096, "samples per chunk")
	calibrate := flag.Duration("calibrate", 2*time.Second, "how long to time the source before starting (0 trusts the reported rate)")
	record := flag.Bool("record", false, "record the stream on the hub")

	mint := flag.Bool("mint", false, "print an identity token and an event access token, then exit")
	secret := flag.String("secret", "", "JWT secret of the hub, for -mint")
	user := flag.String("user", "organizer", "user id for the minted identity token")
	admin := flag.Bool("admin", false, "mint an admin identity")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the minted access token")

	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	zapLogger := logger.New(*level, "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *mint {
		mintTokens(log, *secret, *user, *admin, domain.EventID(*eventID), *ttl)
		return
	}

	if *eventID == "" {
		log.Fatal("-event is required")
	}
	if err := validation.ValidateURL(*url); err != nil {
		log.Fatalw("Invalid -url", "url", *url, "error", err)
	}

	var src client.Source
	if *wavPath != "" {
		wavSource, err := client.NewWAVSource(*wavPath, *block)
		if err != nil {
			log.Fatalw("Failed to open WAV source", "path", *wavPath, "error", err)
		}
		src = wavSource
	} else {
		reported := *reportedRate
		if reported == 0 {
			reported = *deviceRate
		}
		for _, hz := range []int{*deviceRate, reported} {
			if err := validation.ValidateSampleRate(hz); err != nil {
				log.Fatalw("Invalid tone rate", "hz", hz, "error", err)
			}
		}
		src = client.NewToneSource(*tone, *deviceRate, reported, *block, *duration)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *url, *identity, log)
	cancelDial()
	if err != nil {
		log.Fatalw("Failed to connect", "error", err)
	}
	defer conn.Close()

	broadcaster := client.NewBroadcaster(conn, client.BroadcastConfig{
		Calibration: *calibrate,
		Tolerance:   client.DefaultBroadcastConfig().Tolerance,
		Record:      *record,
	}, log)

	stats, err := broadcaster.Run(ctx, domain.EventID(*eventID), src)
	if err != nil && ctx.Err() == nil {
		log.Errorw("Broadcast failed", "event_id", *eventID, "error", err)
	}
	log.Infow("Broadcast finished",
		"event_id", *eventID,
		"sample_rate", stats.SampleRate,
		"reported_rate", stats.ReportedRate,
		"chunks", stats.Chunks,
		"streamed", utils.FormatSampleDuration(stats.Samples, stats.SampleRate),
		"recording", stats.Recording,
	)
}

func mintTokens(log *zap.SugaredLogger, secret, user string, admin bool, eventID domain.EventID, ttl time.Duration) {
	if secret == "" {
		log.Fatal("-secret is required with -mint")
	}
	auth := services.NewAuthService(secret, ttl)

	identityToken, err := auth.GenerateToken(domain.Identity{
		UserID:        domain.UserID(user),
		Username:      user,
		Admin:         admin,
		Authenticated: true,
	})
	if err != nil {
		log.Fatalw("Failed to mint identity token", "error", err)
	}
	fmt.Printf("identity: %s\n", identityToken)

	if eventID == "" {
		return
	}
	accessToken, err := auth.GenerateAccessToken(eventID, user, ttl)
	if err != nil {
		log.Fatalw("Failed to mint access token", "event_id", eventID, "error", err)
	}
	fmt.Printf("access:   %s\n", accessToken)
}
