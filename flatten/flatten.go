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

// Package flatten turns a struct into (path, bytes) pairs and back. Nested
// structs are addressed with dotted paths, every leaf is stored as a
// self-describing protobuf Any so a value can be decoded without its neighbours.
package flatten

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	apierrors "github.com/cubefs/entitydb/errors"
)

const tagName = "entity"

type Field struct {
	Path  string
	Value []byte
}

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))

	structCache sync.Map
)

type structField struct {
	name  string
	index int
}

type structInfo struct {
	fields []structField
	byName map[string]int
	// err is set when a field name cannot be addressed by a dotted path.
	err error
}

func infoOf(t reflect.Type) *structInfo {
	if v, ok := structCache.Load(t); ok {
		return v.(*structInfo)
	}
	info := &structInfo{byName: make(map[string]int)}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup(tagName); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if strings.Contains(name, ".") {
			info.err = fmt.Errorf("field %s of %s: name %q contains '.': %w", f.Name, t, name, apierrors.ErrEncoding)
			break
		}
		if _, ok := info.byName[name]; ok {
			info.err = fmt.Errorf("field %s of %s: duplicate name %q: %w", f.Name, t, name, apierrors.ErrEncoding)
			break
		}
		info.byName[name] = len(info.fields)
		info.fields = append(info.fields, structField{name: name, index: i})
	}
	v, _ := structCache.LoadOrStore(t, info)
	return v.(*structInfo)
}

func isNested(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType
}

// Flatten returns the leaves of v, a struct or pointer to struct, in declaration order.
// Nil pointers, slices and maps are absent. A nested struct without any leaf
// writes nothing, so a non-nil pointer to it reads back as nil.
// Field names must not contain '.' and must be unique within their struct.
func Flatten(v interface{}) ([]Field, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("flatten nil %T: %w", v, apierrors.ErrEncoding)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || !isNested(rv.Type()) {
		return nil, fmt.Errorf("flatten %T, not a struct: %w", v, apierrors.ErrEncoding)
	}
	var fields []Field
	if err := flattenStruct(rv, "", &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func flattenStruct(rv reflect.Value, prefix string, out *[]Field) error {
	info := infoOf(rv.Type())
	if info.err != nil {
		return info.err
	}
	for _, f := range info.fields {
		path := prefix + f.name
		fv := rv.Field(f.index)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if isNested(fv.Type()) {
			if err := flattenStruct(fv, path+".", out); err != nil {
				return err
			}
			continue
		}
		if (fv.Kind() == reflect.Slice || fv.Kind() == reflect.Map) && fv.IsNil() {
			continue
		}
		value, err := encodeLeaf(fv)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		*out = append(*out, Field{Path: path, Value: value})
	}
	return nil
}

// Unflatten rebuilds the struct v points to from fields given in any order.
// v is left untouched on error.
func Unflatten(fields []Field, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || !isNested(rv.Type().Elem()) {
		return fmt.Errorf("unflatten into %T, not a pointer to struct: %w", v, apierrors.ErrEncoding)
	}
	target := reflect.New(rv.Type().Elem()).Elem()
	for i := range fields {
		if err := setPath(target, fields[i].Path, fields[i].Path, fields[i].Value); err != nil {
			return err
		}
	}
	rv.Elem().Set(target)
	return nil
}

func setPath(rv reflect.Value, path, full string, raw []byte) error {
	name, rest, more := strings.Cut(path, ".")
	info := infoOf(rv.Type())
	if info.err != nil {
		return info.err
	}
	i, ok := info.byName[name]
	if !ok {
		return fmt.Errorf("unknown field %s of %s: %w", full, rv.Type(), apierrors.ErrEncoding)
	}
	fv := rv.Field(info.fields[i].index)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if isNested(fv.Type()) {
		if !more {
			return fmt.Errorf("field %s is a struct, not a value: %w", full, apierrors.ErrEncoding)
		}
		return setPath(fv, rest, full, raw)
	}
	if more {
		return fmt.Errorf("field %s goes through a value: %w", full, apierrors.ErrEncoding)
	}
	if err := decodeLeaf(raw, fv); err != nil {
		return fmt.Errorf("field %s: %w", full, err)
	}
	return nil
}
