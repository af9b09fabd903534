package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"passgate/bot"
	"passgate/impl/auth"
	"passgate/impl/core"
	"passgate/impl/entitlement"
	"passgate/impl/minter"
	"passgate/impl/reaper"
	"passgate/internal/compound/database"
	"passgate/internal/config"
	mongodb "passgate/internal/database"
	"passgate/internal/http-server/api"
	"passgate/internal/stripeclient"
	"passgate/lib/logger"
	"passgate/lib/ratelimit"
	"passgate/lib/sl"
)

const logFileName = "passgate.log"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	lg.Info("starting passgate", slog.String("config", *configPath), slog.String("env", conf.Env))

	mongo := mongodb.NewMongoClient(conf)
	if mongo == nil {
		log.Fatal("mongo storage is required")
	}

	compoundDb, err := database.NewSQLClient(conf)
	if err != nil {
		log.Fatal("compound database: ", err)
	}
	defer compoundDb.Close()

	keys := minter.NewKeys(conf.Token.HashKey, conf.Token.IssuerKey)
	mint := minter.New(mongo, compoundDb, keys, lg)
	resolver := entitlement.New(compoundDb, lg)
	limiter := ratelimit.New(
		time.Duration(conf.IssueLimit.WindowMinutes)*time.Minute,
		conf.IssueLimit.MaxPerWindow,
	)

	engine := core.New(mongo, mint, resolver, compoundDb, compoundDb, limiter, lg)
	engine.SetAuthService(auth.New(mongo))

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		tgBot, err = bot.NewTgBot(conf.Telegram.ApiKey, mongo, lg)
		if err != nil {
			lg.Error("telegram bot init", sl.Err(err))
			tgBot = nil
		} else {
			engine.SetNotifier(tgBot)
			// Error-level records also reach the management chat: the
			// operational channel for failures that must stay out of
			// scan responses.
			lg = slog.New(logger.NewTelegramHandler(lg.Handler(), tgBot, slog.LevelError))
			go func() {
				if err := tgBot.Start(); err != nil {
					lg.Error("telegram bot", sl.Err(err))
				}
			}()
			defer tgBot.Stop()
		}
	}

	if conf.Stripe.Enabled {
		payments := stripeclient.New(conf, lg)
		payments.SetBilling(compoundDb)
		if tgBot != nil {
			payments.SetNotifier(tgBot)
		}
		engine.SetPayments(payments)
	}

	if conf.Reaper.Enabled {
		sweeper := reaper.New(mongo, compoundDb, reaper.Config{
			Interval:        time.Duration(conf.Reaper.IntervalMinutes) * time.Minute,
			LedgerRetention: time.Duration(conf.Reaper.LedgerRetentionDays) * 24 * time.Hour,
		}, lg)
		sweeper.Start(context.Background())
		defer sweeper.Stop()
	}

	if err := api.New(conf, lg, engine); err != nil {
		lg.Error("api server", sl.Err(err))
		os.Exit(1)
	}
}
