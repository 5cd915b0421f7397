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

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/entitydb/gateway"
)

const component = "admin"

type Config struct {
	GatewayConfig gateway.Config `json:"gateway_config"`
	// Tables are created on start when missing.
	Tables []string `json:"tables"`
}

type Server struct {
	gw      *gateway.Gateway
	session *gateway.Session
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	span := trace.SpanFromContextSafe(ctx)

	gw, err := gateway.Open(ctx, &cfg.GatewayConfig)
	if err != nil {
		return nil, err
	}
	s := &Server{gw: gw, session: gw.Session(component)}
	for _, table := range cfg.Tables {
		if err = s.CreateTable(ctx, table); err != nil {
			gw.Close()
			return nil, err
		}
	}
	span.Infof("server started with tables %v", s.Tables())
	return s, nil
}

func (s *Server) CreateTable(ctx context.Context, table string) error {
	return s.session.CreateTableIfNotExist(ctx, table)
}

func (s *Server) Tables() []string {
	return s.session.Tables()
}

func (s *Server) Stats(ctx context.Context) (gateway.Stats, error) {
	return s.gw.Stats(ctx)
}

func (s *Server) Close() {
	s.gw.Close()
}
