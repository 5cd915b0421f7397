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

package flatten

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	pb "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apierrors "github.com/cubefs/entitydb/errors"
)

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func encodeLeaf(v reflect.Value) ([]byte, error) {
	var msg pb.Message
	switch t := v.Type(); {
	case t == timeType:
		msg = timestamppb.New(v.Interface().(time.Time))
	case t == durationType:
		msg = durationpb.New(time.Duration(v.Int()))
	case isBytes(t):
		msg = wrapperspb.Bytes(v.Bytes())
	default:
		switch v.Kind() {
		case reflect.Bool:
			msg = wrapperspb.Bool(v.Bool())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			msg = wrapperspb.Int64(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			msg = wrapperspb.UInt64(v.Uint())
		case reflect.Float32:
			msg = wrapperspb.Float(float32(v.Float()))
		case reflect.Float64:
			msg = wrapperspb.Double(v.Float())
		case reflect.String:
			msg = wrapperspb.String(v.String())
		case reflect.Slice, reflect.Array, reflect.Map:
			raw, err := json.Marshal(v.Interface())
			if err != nil {
				return nil, fmt.Errorf("encode %s: %v: %w", t, err, apierrors.ErrEncoding)
			}
			msg = wrapperspb.Bytes(raw)
		default:
			return nil, fmt.Errorf("unsupported type %s: %w", t, apierrors.ErrEncoding)
		}
	}

	a, err := anypb.New(msg)
	if err != nil {
		return nil, fmt.Errorf("wrap %s: %v: %w", v.Type(), err, apierrors.ErrEncoding)
	}
	raw, err := pb.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %v: %w", v.Type(), err, apierrors.ErrEncoding)
	}
	return raw, nil
}

func decodeLeaf(raw []byte, v reflect.Value) error {
	a := &anypb.Any{}
	if err := pb.Unmarshal(raw, a); err != nil {
		return fmt.Errorf("undecodable value: %v: %w", err, apierrors.ErrEncoding)
	}

	switch t := v.Type(); {
	case t == timeType:
		ts := &timestamppb.Timestamp{}
		if err := unpack(a, ts, t); err != nil {
			return err
		}
		if err := ts.CheckValid(); err != nil {
			return fmt.Errorf("%v: %w", err, apierrors.ErrEncoding)
		}
		v.Set(reflect.ValueOf(ts.AsTime()))
	case t == durationType:
		d := &durationpb.Duration{}
		if err := unpack(a, d, t); err != nil {
			return err
		}
		if err := d.CheckValid(); err != nil {
			return fmt.Errorf("%v: %w", err, apierrors.ErrEncoding)
		}
		v.SetInt(int64(d.AsDuration()))
	case isBytes(t):
		w := &wrapperspb.BytesValue{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		b := reflect.MakeSlice(t, len(w.Value), len(w.Value))
		reflect.Copy(b, reflect.ValueOf(w.Value))
		v.Set(b)
	default:
		return decodeKind(a, v)
	}
	return nil
}

func decodeKind(a *anypb.Any, v reflect.Value) error {
	t := v.Type()
	switch v.Kind() {
	case reflect.Bool:
		w := &wrapperspb.BoolValue{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		v.SetBool(w.Value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		w := &wrapperspb.Int64Value{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		if v.OverflowInt(w.Value) {
			return fmt.Errorf("%d overflows %s: %w", w.Value, t, apierrors.ErrEncoding)
		}
		v.SetInt(w.Value)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		w := &wrapperspb.UInt64Value{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		if v.OverflowUint(w.Value) {
			return fmt.Errorf("%d overflows %s: %w", w.Value, t, apierrors.ErrEncoding)
		}
		v.SetUint(w.Value)
	case reflect.Float32:
		w := &wrapperspb.FloatValue{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		v.SetFloat(float64(w.Value))
	case reflect.Float64:
		w := &wrapperspb.DoubleValue{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		v.SetFloat(w.Value)
	case reflect.String:
		w := &wrapperspb.StringValue{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		v.SetString(w.Value)
	case reflect.Slice, reflect.Array, reflect.Map:
		w := &wrapperspb.BytesValue{}
		if err := unpack(a, w, t); err != nil {
			return err
		}
		if err := json.Unmarshal(w.Value, v.Addr().Interface()); err != nil {
			return fmt.Errorf("decode %s: %v: %w", t, err, apierrors.ErrEncoding)
		}
	default:
		return fmt.Errorf("unsupported type %s: %w", t, apierrors.ErrEncoding)
	}
	return nil
}

func unpack(a *anypb.Any, m pb.Message, t reflect.Type) error {
	if err := a.UnmarshalTo(m); err != nil {
		return fmt.Errorf("%s stored, %s expected: %w", a.GetTypeUrl(), t, apierrors.ErrEncoding)
	}
	return nil
}
