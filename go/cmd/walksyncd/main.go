package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/activity"
	"github.com/sparkwalk/walksync/go/internal/chat"
	"github.com/sparkwalk/walksync/go/internal/config"
	"github.com/sparkwalk/walksync/go/internal/dbconfig"
	"github.com/sparkwalk/walksync/go/internal/gateway"
	"github.com/sparkwalk/walksync/go/internal/identity"
	"github.com/sparkwalk/walksync/go/internal/models"
	"github.com/sparkwalk/walksync/go/internal/notify"
	"github.com/sparkwalk/walksync/go/internal/session"
	"github.com/sparkwalk/walksync/go/internal/timer"
	"github.com/sparkwalk/walksync/go/internal/transport"
	"github.com/sparkwalk/walksync/go/internal/walk"
)

// walksyncd hosts a group walk session headlessly: it creates the session,
// acts as the host authority for its timer, and exposes a websocket gateway
// so UI clients can watch the control, progress and chat streams.
func main() {
	presetPath := flag.String("preset", "", "YAML session preset (name + intervals); default plan if empty")
	autoStart := flag.Bool("start", true, "start the countdown immediately after hosting")
	flag.Parse()

	cfg := config.Load()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = dbconfig.NewConfigFromEnv().DSN()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to Postgres")
	}
	defer pool.Close()

	bus, err := transport.NewNATS(transport.NATSConfig{
		URL:           cfg.NATSURL,
		Name:          "walksyncd",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer bus.Close()

	clock := clockwork.NewRealClock()
	sessions := session.NewApp(session.NewPgRepository(pool), notify.NewBusNotifier(bus, clock), clock)

	name := "Group Walk"
	var plan models.IntervalPlan
	if *presetPath != "" {
		preset, err := config.LoadPreset(*presetPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load session preset")
		}
		name = preset.Name
		plan = preset.Plan()
	}

	who := identity.Static{ID: uuid.New()}
	if cfg.HostID != "" {
		id, err := uuid.Parse(cfg.HostID)
		if err != nil {
			log.Fatal().Err(err).Msg("parse HOST_ID")
		}
		who.ID = id
	}
	hostID := who.CurrentParticipantID()

	sess, err := sessions.CreateSession(ctx, hostID, name, plan)
	if err != nil {
		log.Fatal().Err(err).Msg("create session")
	}
	token, err := sessions.Invite(ctx, sess.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("create invite")
	}
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("invite", "sparkwalk://join/"+token).
		Msg("session hosted")

	walker, err := walk.NewWalker(walk.Config{
		SessionID:       sess.ID,
		HostID:          hostID,
		LocalID:         hostID,
		Plan:            sess.Plan,
		Bus:             bus,
		Clock:           clock,
		ProgressCadence: cfg.ProgressCadence,
		Activity:        activity.NewPgRecorder(pool, clock),
		Lifecycle:       sessions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build walker")
	}
	walker.OnIntervalTransition(func(ev timer.TransitionEvent) {
		log.Info().
			Uint32("interval", ev.IntervalIndex).
			Str("pace", string(ev.Pace)).
			Str("cue", string(ev.Cue)).
			Msg("pace change")
	})
	if err := walker.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join session")
	}
	defer walker.Leave()

	// The daemon holds the session's chat archive: every message heard on
	// the chat subject is persisted, whoever sent it.
	chatStore := chat.NewPgStore(pool)
	room := chat.NewRoom(sess.ID, hostID, chatStore, bus, clock)
	unsubChat, err := room.Listen(func(m models.ChatMessage) {
		if m.SenderID == hostID {
			return // own sends are stored by Send
		}
		if err := chatStore.AppendMessage(ctx, m); err != nil {
			log.Warn().Err(err).Str("message_id", m.ID.String()).Msg("archive chat message")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("listen for chat")
	}
	defer unsubChat()

	gw := gateway.New(bus, gateway.DefaultConfig())
	go gw.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: cors.Default().Handler(gw.Handler()),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway server error")
			stop()
		}
	}()

	if *autoStart {
		if _, err := sessions.Start(ctx, hostID, sess.ID); err != nil {
			log.Fatal().Err(err).Msg("activate session")
		}
		if err := walker.StartTimer(ctx); err != nil {
			log.Fatal().Err(err).Msg("start timer")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway shutdown")
	}
}
