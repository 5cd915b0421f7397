// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubefs/entitydb/metrics"
	"github.com/cubefs/entitydb/util"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30

	statsBufferSize = 4 << 10
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})

	rpc.GET("/stats", h.Stats, rpc.OptArgsQuery())
	rpc.GET("/tables", h.ListTables)
	rpc.POST("/table/create", h.CreateTable, rpc.OptArgsQuery())
	rpc.GET("/metrics", func(c *rpc.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})

	return rpc.DefaultRouter
}

func (h *HttpServer) Stats(c *rpc.Context) {
	span, ctx := trace.StartSpanFromContext(c.Request.Context(), "")
	stats, err := h.Server.Stats(ctx)
	if err != nil {
		span.Errorf("get stats failed: %s", errors.Detail(err))
		c.RespondError(err)
		return
	}

	buf := util.GetBufferWriter(statsBufferSize)
	defer util.PutBufferWriter(buf)
	if err = json.NewEncoder(buf).Encode(stats); err != nil {
		c.RespondError(errors.Info(err, "encode stats failed"))
		return
	}
	c.Writer.Header().Set("Content-Type", "application/json")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Write(buf.Bytes())
}

func (h *HttpServer) ListTables(c *rpc.Context) {
	c.RespondJSON(h.Tables())
}

func (h *HttpServer) CreateTable(c *rpc.Context) {
	span, ctx := trace.StartSpanFromContext(c.Request.Context(), "")
	name := c.Request.URL.Query().Get("name")
	if err := h.Server.CreateTable(ctx, name); err != nil {
		span.Warnf("create table %s failed: %s", name, errors.Detail(err))
		c.RespondError(err)
		return
	}
	c.RespondStatus(http.StatusOK)
}
