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

// Package keycodec maps entity paths to row keys. Every element is written as
// escape(type) ":" escape(id) "/", so the key of an entity is the key of its
// parent followed by its own element, and sibling ids never prefix each other.
package keycodec

import (
	"fmt"
	"net/url"
	"strings"

	apierrors "github.com/cubefs/entitydb/errors"
	"github.com/cubefs/entitydb/proto"
)

const (
	typeSep    = ':'
	elementEnd = '/'
)

func Encode(id proto.EntityID) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	sb := strings.Builder{}
	for i := range id {
		appendElement(&sb, id[i].Type, id[i].ID)
	}
	return sb.String(), nil
}

// TypePrefix is the key prefix shared by every direct or nested child of parent
// whose first element below parent has type typ. An empty parent lists root entities.
func TypePrefix(parent proto.EntityID, typ string) (string, error) {
	if typ == "" {
		return "", fmt.Errorf("empty type: %w", apierrors.ErrInvalidEntityID)
	}
	prefix := ""
	if len(parent) > 0 {
		var err error
		if prefix, err = Encode(parent); err != nil {
			return "", err
		}
	}
	return prefix + url.QueryEscape(typ) + string(typeSep), nil
}

// Decode parses a key produced by Encode.
func Decode(key string) (proto.EntityID, error) {
	if key == "" || key[len(key)-1] != elementEnd {
		return nil, fmt.Errorf("key %q is not terminated: %w", key, apierrors.ErrInvalidEntityID)
	}
	elements := strings.Split(key[:len(key)-1], string(elementEnd))
	id := make(proto.EntityID, 0, len(elements))
	for _, element := range elements {
		typ, eid, ok := strings.Cut(element, string(typeSep))
		if !ok {
			return nil, fmt.Errorf("element %q of key %q has no type: %w", element, key, apierrors.ErrInvalidEntityID)
		}
		typ, err := Unescape(typ)
		if err != nil {
			return nil, err
		}
		if eid, err = Unescape(eid); err != nil {
			return nil, err
		}
		id = append(id, proto.PathElement{Type: typ, ID: eid})
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

func Unescape(s string) (string, error) {
	ret, err := url.QueryUnescape(s)
	if err != nil {
		return "", fmt.Errorf("unescape %q: %v: %w", s, err, apierrors.ErrInvalidEntityID)
	}
	return ret, nil
}

func appendElement(sb *strings.Builder, typ, id string) {
	sb.WriteString(url.QueryEscape(typ))
	sb.WriteByte(typeSep)
	sb.WriteString(url.QueryEscape(id))
	sb.WriteByte(elementEnd)
}
