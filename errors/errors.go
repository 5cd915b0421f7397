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

package errors

import "errors"

var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTableNotFound      = errors.New("table not found")
	ErrAmbiguousResult    = errors.New("more than one row found for a unique key")
	ErrEncoding           = errors.New("encoding error")

	ErrNotFound        = errors.New("entity not found")
	ErrInvalidEntityID = errors.New("invalid entity id")
	ErrInvalidMutation = errors.New("invalid mutation")
	ErrInvalidLabel    = errors.New("invalid visibility label")
	ErrInvalidTable    = errors.New("invalid table name")
)
