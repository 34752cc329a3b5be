// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The journal service is a personal work-journal API with an AI mentor:
// journal entries, goals, and streaming chat over an OpenAI-compatible
// model backend.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/worklog-ai/worklog/services/journal/middleware"
	"github.com/worklog-ai/worklog/services/journal/observability"
	"github.com/worklog-ai/worklog/services/journal/routes"
	"github.com/worklog-ai/worklog/services/journal/store"
	"github.com/worklog-ai/worklog/services/journal/streams"
	"github.com/worklog-ai/worklog/services/llm"
)

// initTracer wires the OTLP trace exporter. Returns a no-op cleanup when
// OTEL_EXPORTER_OTLP_ENDPOINT is unset; tracing is optional for local
// single-user deployments.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("journal-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// sessionProvider picks the auth mode. Multi-user token auth when
// WORKLOG_SESSION_TOKENS is configured, otherwise single-user local mode.
func sessionProvider() middleware.SessionProvider {
	if provider, ok := middleware.NewStaticTokenProviderFromEnv(); ok {
		slog.Info("using static token authentication")
		return provider
	}
	userID := os.Getenv("WORKLOG_LOCAL_USER")
	if userID == "" {
		userID = "local"
	}
	slog.Info("using single-user local mode", "userId", userID)
	return &middleware.LocalSessionProvider{UserID: userID}
}

func main() {
	port := os.Getenv("WORKLOG_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	dbPath := os.Getenv("WORKLOG_DB_PATH")
	if dbPath == "" {
		dbPath = "worklog.db"
	}
	journalStore, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open journal store at %s: %v", dbPath, err)
	}
	defer journalStore.Close()

	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}

	rps := 5.0
	if raw := os.Getenv("WORKLOG_RATE_LIMIT_RPS"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			rps = parsed
		} else {
			slog.Warn("invalid WORKLOG_RATE_LIMIT_RPS, using default", "value", raw)
		}
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("journal-service"))

	routes.SetupRoutes(router, routes.Deps{
		Store:     journalStore,
		LLMClient: llmClient,
		Sessions:  sessionProvider(),
		Registry:  streams.NewRegistry(),
		Limiter:   middleware.NewRateLimiter(rps, int(rps)*2),
	})

	slog.Info("starting the journal server", "port", port, "db", dbPath)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
