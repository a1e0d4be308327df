// forumchat is the terminal chat client: sign in, pick a room, chat live.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/term"

	"forum-client/internal/api"
	"forum-client/internal/archive"
	"forum-client/internal/chat"
	"forum-client/internal/chat/live"
	"forum-client/internal/config"
	"forum-client/internal/credential"
	"forum-client/internal/gateway"
	"forum-client/internal/logging"
	"forum-client/internal/telemetry"
	"forum-client/internal/telemetry/kafka"
	"forum-client/internal/telemetry/loki"
	telemetryotel "forum-client/internal/telemetry/otel"
	"forum-client/internal/tui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	username := flag.String("user", "", "Username to sign in with (prompted when empty)")
	with := flag.String("with", "", "Open the direct room with this user")
	groups := flag.String("groups", "", "Comma separated group ids whose rooms are listed")
	logFile := flag.String("log-file", "forumchat.log", "File the client logs to")
	flag.Parse()

	if err := run(*username, *with, *groups, *logFile); err != nil {
		fmt.Fprintln(os.Stderr, "forumchat:", err)
		os.Exit(1)
	}
}

func run(username, with, groups, logFile string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	groupIDs, err := parseGroups(groups)
	if err != nil {
		return err
	}

	sink, closeLog, err := zap.Open(logFile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLog()
	logger := logging.NewWithSink(cfg.LogLevel, cfg.Production(), sink)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	settings, err := telemetryotel.FromConfig(cfg, "forumchat", version, logger)
	if err != nil {
		return err
	}
	providers, err := telemetryotel.NewProviders(ctx, settings)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()
	kafkaSink := kafka.NewEmitter(cfg.Brokers(), cfg.KafkaTopic)
	defer kafkaSink.Close()
	emitter := telemetry.Multi(
		telemetryotel.NewEventEmitter(providers.LoggerProvider),
		kafkaSink,
		loki.NewEmitter(cfg.LokiURL, nil),
	)

	bridge := tui.NewBridge(tui.RouteRooms)
	var active atomic.Pointer[chat.Synchronizer]
	gw, err := gateway.New(cfg.APIBaseURL, credential.NewSession(), gateway.Options{
		Timeout:      cfg.RequestTimeout(),
		Navigator:    bridge,
		LandingRoute: cfg.LandingRoute,
		OnSessionExpired: func(cause error) {
			logger.Warn("session expired", zap.Error(cause))
			telemetry.EmitAsync(emitter, ctx, &telemetry.Event{Type: telemetry.EventSessionExpired, Detail: gateway.UserMessage(cause)})
			if s := active.Load(); s != nil {
				s.SetConditions(false, true)
			}
		},
		Logger:         logger,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
	})
	if err != nil {
		return err
	}
	defer gw.Close()

	auth := api.NewAuthService(gw, gw)
	if err := login(ctx, auth, username); err != nil {
		return err
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
		defer cancel()
		if err := auth.Logout(logoutCtx); err != nil {
			logger.Debug("logout", zap.Error(err))
		}
	}()
	telemetry.EmitAsync(emitter, ctx, &telemetry.Event{Type: telemetry.EventSessionEstablished, Username: gw.Username()})

	var archiver chat.Archiver
	if cfg.DatabaseURL != "" {
		repo, err := archive.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer repo.Close()
		archiver = repo
	}

	delay, maxDelay := cfg.ReconnectBackoff()
	syncer, err := chat.New(chat.Options{
		Transport: live.New(cfg.ChatWSURL, live.Options{
			SendTimeout:   cfg.SendTimeout(),
			FireAndForget: !cfg.ChatAwaitReceipt,
			Logger:        logger,
		}),
		History:        chat.NewRESTHistory(gw),
		Identity:       gw,
		Archiver:       archiver,
		Emitter:        emitter,
		TypingIdle:     cfg.TypingIdleWindow(),
		PageSize:       cfg.MessagePageSize,
		ReconnectDelay: delay,
		ReconnectMax:   maxDelay,
		OnChange:       bridge.Changed,
		Logger:         logger,
		MeterProvider:  providers.MeterProvider,
	})
	if err != nil {
		return err
	}
	defer syncer.Close()
	active.Store(syncer)
	syncer.SetConditions(true, true)

	var initial *tui.RoomItem
	if with != "" {
		openCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
		item, err := openWith(openCtx, gw, with)
		cancel()
		if err != nil {
			return errors.New(gateway.UserMessage(err))
		}
		initial = &item
	}

	model := tui.New(syncer, roomSource(gw, groupIDs), bridge, gw.Username(), initial)
	program := tea.NewProgram(model, tea.WithAltScreen())
	bridge.Attach(program)
	if _, err := program.Run(); err != nil {
		return err
	}
	if model.Expired() {
		return gateway.ErrSessionExpired
	}
	return nil
}

// login prompts for what the flags left out and signs in.
func login(ctx context.Context, auth *api.AuthService, username string) error {
	in := bufio.NewReader(os.Stdin)
	if username == "" {
		fmt.Fprint(os.Stderr, "Username: ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return errors.New("username is required")
	}

	password, err := readPassword(in)
	if err != nil {
		return err
	}

	loginCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := auth.Login(loginCtx, username, password); err != nil {
		return errors.New(gateway.UserMessage(err))
	}
	return nil
}

func readPassword(in *bufio.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
