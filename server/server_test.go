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
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/entitydb/common/kvstore"
	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/gateway"
	"github.com/cubefs/entitydb/util"
)

func TestServer(t *testing.T) {
	ctx := context.Background()
	s, err := NewServer(ctx, &Config{
		GatewayConfig: gateway.Config{Engine: kvstore.LeveldbLsmKVType, InMemory: true},
		Tables:        []string{"records", "idx_color"},
	})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, []string{"idx_color", "records"}, s.Tables())
	require.NoError(t, s.CreateTable(ctx, "records"))
	require.NoError(t, s.CreateTable(ctx, "audit"))
	require.True(t, errors.Is(s.CreateTable(ctx, ""), apierrors.ErrInvalidTable))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"audit", "idx_color", "records"}, stats.Tables)
}

func TestServer_Persistent(t *testing.T) {
	ctx := context.Background()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)
	cfg := &Config{
		GatewayConfig: gateway.Config{Path: path, Engine: kvstore.LeveldbLsmKVType},
		Tables:        []string{"records"},
	}
	s, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	s.Close()

	cfg.Tables = nil
	s, err = NewServer(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, []string{"records"}, s.Tables())

	_, err = NewServer(ctx, &Config{GatewayConfig: gateway.Config{Engine: "unknown"}})
	require.True(t, errors.Is(err, apierrors.ErrStorageUnavailable))
}
