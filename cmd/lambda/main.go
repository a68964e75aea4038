package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/berniyo/pesapal-lambda/internal/config"
	"github.com/berniyo/pesapal-lambda/internal/handler"
	"github.com/berniyo/pesapal-lambda/internal/httpclient"
	"github.com/berniyo/pesapal-lambda/internal/logger"
	"github.com/berniyo/pesapal-lambda/internal/pesapal"
)

func main() {
	// .env is only present for local runs
	_ = godotenv.Load()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	httpClient := httpclient.NewDefaultClient(httpclient.ClientConfig{
		Timeout:  cfg.HTTP.Timeout,
		RetryMax: cfg.HTTP.RetryMax,
		Logger:   logr,
	})

	client, err := pesapal.NewClient(context.Background(),
		pesapal.Credentials{
			ConsumerKey:    cfg.Pesapal.ConsumerKey,
			ConsumerSecret: cfg.Pesapal.ConsumerSecret,
		},
		pesapal.WithEnvironment(pesapal.Environment(cfg.Pesapal.Environment)),
		pesapal.WithHTTPClient(httpClient),
		pesapal.WithLogger(logr.With("component", "pesapal")),
	)
	if err != nil {
		logr.Fatalf("failed to configure pesapal client: %v", err)
	}

	opts := []handler.Option{
		handler.WithLogger(logr.With("component", "processor")),
		handler.WithNotificationType(cfg.Pesapal.IPNNotificationType),
	}
	if cfg.Callback.URL != "" {
		sender, err := handler.NewHTTPSCallbackSender(cfg.Callback.URL, cfg.Callback.Secret, httpClient)
		if err != nil {
			logr.Fatalf("failed to configure callback sender: %v", err)
		}
		opts = append(opts, handler.WithCallbackSender(sender))
	}

	processor := handler.NewProcessor(client, handler.Settings{
		IPNURL:          cfg.Pesapal.IPNURL,
		CallbackURL:     cfg.Pesapal.CallbackURL,
		CancellationURL: cfg.Pesapal.CancellationURL,
		Branch:          cfg.Pesapal.Branch,
	}, opts...)

	api := handler.NewAPI(processor, logr.With("component", "api"))

	lambda.Start(api.Handle)
}
