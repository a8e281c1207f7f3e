// Copyright 2026 Atelier Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi exposes the workflow engine over HTTP: the REST
// surface, the SSE event stream, and the websocket stream.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/pkg/workflow"
)

// Options configures the HTTP server.
type Options struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// Server wires the engine into a gin router.
type Server struct {
	engine *workflow.Engine
	opts   Options
	http   *http.Server
}

// New builds the server and its routes.
func New(engine *workflow.Engine, opts Options) *Server {
	s := &Server{engine: engine, opts: opts}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	corsCfg := cors.DefaultConfig()
	if len(opts.CORSOrigins) == 1 && opts.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else if len(opts.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = opts.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/workflows", s.handleSubmit)
		api.GET("/workflows", s.handleList)
		api.GET("/workflows/:id", s.handleStatus)
		api.POST("/workflows/:id/cancel", s.handleCancel)
		api.POST("/workflows/:id/publish", s.handlePublish)
		api.GET("/workflows/:id/events", s.handleEvents)
		api.GET("/workflows/:id/ws", s.handleWebsocket)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// streaming endpoints log their own lifecycle
		if c.Writer.Status() == http.StatusOK && c.GetBool("streaming") {
			return
		}
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
