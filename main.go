package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iamwavecut/doorbot/internal/adapters"
	"github.com/iamwavecut/doorbot/internal/adapters/llm/openai"
	"github.com/iamwavecut/doorbot/internal/bot"
	"github.com/iamwavecut/doorbot/internal/config"
	"github.com/iamwavecut/doorbot/internal/db/redis"
	"github.com/iamwavecut/doorbot/internal/db/sqlite"
	handlers "github.com/iamwavecut/doorbot/internal/handlers/chat"
	"github.com/iamwavecut/doorbot/internal/handlers/tasks"
	"github.com/iamwavecut/doorbot/internal/infra"
	"github.com/iamwavecut/doorbot/internal/lifecycle"
	"github.com/iamwavecut/doorbot/internal/observability"
	"github.com/iamwavecut/doorbot/internal/screening"
	"github.com/iamwavecut/doorbot/internal/worker"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.Formatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go infra.GoRecoverable(-1, "main loop", func() {
		if err := run(ctx, &cfg); err != nil && ctx.Err() == nil {
			log.WithField("error", err.Error()).Errorln("main loop failed")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
	})

	select {
	case <-infra.MonitorExecutable(ctx):
		log.Errorln("executable file was modified, exiting")
	case <-ctx.Done():
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	botAPI, err := api.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return err
	}
	if cfg.Debug || log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		return err
	}

	sessions, err := redis.NewClient(cfg.Redis.DSN)
	if err != nil {
		return err
	}
	defer sessions.Close()
	if err := sessions.Ping(ctx); err != nil {
		return err
	}

	taskStore, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(cfg.DotPath), "doorbot.db")
	if err != nil {
		return err
	}
	defer taskStore.Close()

	var llmClient adapters.LLM
	if cfg.AI.ProxyHost != "" {
		llmClient = openai.NewAPI(cfg.AI.ProxyHost, cfg.AI.ProxyToken, cfg.AI.Models, log.WithField("object", "OpenAI"))
	}
	screen := screening.NewPipeline(cfg.Advertising, llmClient)

	service := bot.NewService(botAPI, sessions, sessions, taskStore)

	captcha, err := handlers.NewCaptchaBuilder()
	if err != nil {
		return err
	}
	bot.RegisterUpdateHandler("admission", handlers.NewAdmission(service, cfg, screen, captcha))

	runtime := lifecycle.NewRuntime(
		worker.New(worker.NewBotDeleter(botAPI), taskStore, tasks.NewHandlerMap(service)),
	)
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Error("cant stop components")
		}
	}()

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "chat_member", "my_chat_member", "callback_query"}

	updateProcessor := bot.NewUpdateProcessor(service)
	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case err := <-errorChan:
				return err
			case update := <-updateChan:
				// Each update gets its own goroutine so one slow handler
				// never delays the rest of the queue.
				go infra.GoRecoverable(1, "update processing", func() {
					if err := updateProcessor.Process(ctx, &update); err != nil {
						log.WithField("error", err.Error()).Errorln("cant process update")
					}
				})
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return g.Wait()
}
