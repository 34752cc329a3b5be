// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the journal service's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worklog-ai/worklog/services/journal/conversation"
	"github.com/worklog-ai/worklog/services/journal/handlers"
	"github.com/worklog-ai/worklog/services/journal/middleware"
	"github.com/worklog-ai/worklog/services/journal/store"
	"github.com/worklog-ai/worklog/services/journal/streams"
	"github.com/worklog-ai/worklog/services/llm"
)

// Deps carries the shared dependencies the route handlers close over.
type Deps struct {
	Store     *store.Store
	LLMClient llm.LLMClient
	Sessions  middleware.SessionProvider
	Registry  *streams.Registry
	Limiter   *middleware.RateLimiter
}

// SetupRoutes registers every endpoint on the router.
//
// /health and /metrics are unauthenticated; everything under /v1 requires
// a bearer token and is rate limited per user.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	prompts := conversation.NewBuilder(deps.Store)
	chatHandler := handlers.NewStreamingChatHandler(deps.LLMClient, deps.Store, prompts, deps.Registry)
	convHandler := handlers.NewConversationHandler(deps.Store)
	entryHandler := handlers.NewEntryHandler(deps.Store)
	reportHandler := handlers.NewReportHandler(deps.LLMClient, deps.Store)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Sessions))
	if deps.Limiter != nil {
		v1.Use(deps.Limiter.Middleware())
	}
	{
		v1.POST("/chat/stream", chatHandler.HandleChatStream)
		v1.POST("/chat/stream/stop", chatHandler.HandleStopStream)

		conversations := v1.Group("/conversations")
		{
			conversations.POST("", convHandler.HandleCreate)
			conversations.GET("", convHandler.HandleList)
			conversations.GET("/:id", convHandler.HandleGet)
			conversations.GET("/:id/messages", convHandler.HandleListMessages)
			conversations.DELETE("/:id", convHandler.HandleDelete)
		}

		v1.POST("/entries", entryHandler.HandleCreate)
		v1.GET("/entries", entryHandler.HandleList)

		v1.POST("/reports/generate", reportHandler.HandleGenerate)
	}
}
