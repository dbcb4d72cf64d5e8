package main

import (
	"ChatRelay/bot"
	"ChatRelay/impl/core"
	"ChatRelay/internal/config"
	"ChatRelay/internal/database"
	"ChatRelay/internal/http-server/api"
	"ChatRelay/internal/lib/logger"
	"ChatRelay/internal/lib/sl"
	"ChatRelay/internal/service/auth"
	"ChatRelay/internal/service/chatsync"
	"ChatRelay/internal/upstream"
	"ChatRelay/internal/ws"
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, *logPath)

	// Initialize Telegram bot if enabled
	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.BotName, conf.Telegram.ApiKey, conf.Telegram.AdminId, lg)
		if err != nil {
			lg.Error("failed to initialize telegram bot", sl.Err(err))
		} else {
			lg = logger.SetupTelegramHandler(lg, tgBot, slog.LevelError)
			lg.With(
				slog.String("bot_name", conf.Telegram.BotName),
			).Info("telegram bot initialized")
		}
	}

	lg.Info("starting chat relay", slog.String("config", *configPath), slog.String("env", conf.Env))
	lg.Debug("debug messages enabled")

	db, err := repository.NewSQLClient(conf.Database.Driver, conf.Database.DSN, lg)
	if err != nil {
		lg.Error("sql client", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()
	lg.With(
		slog.String("driver", conf.Database.Driver),
	).Info("sql client initialized")

	authService := auth.NewAuthService(lg, conf.Sessions.CookieName, conf.Sessions.Secret)
	switch conf.Sessions.Backend {
	case "mongo":
		mongo := repository.NewMongoClient(conf, lg)
		defer mongo.Disconnect(context.Background())
		authService.SetRepository(mongo)
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("user", conf.Mongo.User),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo session store initialized")
	default:
		if err = db.SetSessionTable(conf.Sessions.Table); err != nil {
			lg.Error("session table", sl.Err(err))
			os.Exit(1)
		}
		authService.SetRepository(db)
	}

	handler := core.New(lg)
	handler.SetSynchronizer(chatsync.NewService(db, lg))

	hub := ws.NewHub(lg)
	handler.SetBroadcaster(hub)

	client := upstream.NewClient(upstream.Options{
		URL:                  conf.Upstream.URL,
		Token:                conf.Upstream.Token,
		ReconnectInterval:    conf.Upstream.ReconnectInterval,
		MaxReconnectInterval: conf.Upstream.MaxReconnectInterval,
	}, lg)
	client.SetHandler(handler)
	handler.SetUpstream(client)
	hub.SetStatusProvider(client)

	if tgBot != nil {
		handler.SetNotifier(tgBot)
		tgBot.SetStatusSource(handler)
		go func() {
			if err := tgBot.Start(); err != nil {
				lg.Error("telegram bot error", sl.Err(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Upstream.Enabled {
		lg.With(
			slog.String("url", conf.Upstream.URL),
			sl.Secret("token", conf.Upstream.Token),
		).Info("bot gateway client starting")
		go client.Run(ctx)
	} else {
		lg.Warn("bot gateway client disabled")
	}

	server := api.New(conf, lg, api.NewRouter(conf, lg, handler, authService, hub))
	go func() {
		if err := server.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server start", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client.Disconnect()
	hub.Close()
	if err = server.Shutdown(shutdownCtx); err != nil {
		lg.Error("server shutdown", sl.Err(err))
	}
	if tgBot != nil {
		tgBot.Stop()
	}
	lg.Info("service stopped")
}
