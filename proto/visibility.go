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

package proto

import (
	"context"
	"fmt"

	apierrors "github.com/cubefs/entitydb/errors"
)

// Label is a visibility expression attached to a cell, e.g. "phi&(clinician|audit)".
// '&' binds tighter than '|'. The empty label is visible to every reader.
type Label string

// Authorizations is the set of tokens a reader holds.
type Authorizations map[string]struct{}

type (
	// VisibilityPolicy resolves the label written with a qualifier of a table.
	VisibilityPolicy interface {
		Label(table, qualifier string) Label
	}
	// AuthorizationsProvider supplies the reader capabilities applied to every scanner.
	AuthorizationsProvider interface {
		Authorizations(ctx context.Context) Authorizations
	}
)

func NewAuthorizations(tokens ...string) Authorizations {
	ret := make(Authorizations, len(tokens))
	for _, t := range tokens {
		ret[t] = struct{}{}
	}
	return ret
}

func (a Authorizations) Contains(token string) bool {
	_, ok := a[token]
	return ok
}

func (l Label) Validate() error {
	_, err := l.Evaluate(nil)
	return err
}

// Evaluate reports whether a reader holding auths may see a cell labelled l.
func (l Label) Evaluate(auths Authorizations) (bool, error) {
	if l == "" {
		return true, nil
	}
	p := &labelParser{s: string(l), auths: auths}
	ok, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.s) {
		return false, p.errorf("unexpected %q", p.s[p.pos])
	}
	return ok, nil
}

type labelParser struct {
	s     string
	pos   int
	auths Authorizations
}

func (p *labelParser) parseOr() (bool, error) {
	ret, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.pos < len(p.s) && p.s[p.pos] == '|' {
		p.pos++
		ok, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		ret = ret || ok
	}
	return ret, nil
}

func (p *labelParser) parseAnd() (bool, error) {
	ret, err := p.parseFactor()
	if err != nil {
		return false, err
	}
	for p.pos < len(p.s) && p.s[p.pos] == '&' {
		p.pos++
		ok, err := p.parseFactor()
		if err != nil {
			return false, err
		}
		ret = ret && ok
	}
	return ret, nil
}

func (p *labelParser) parseFactor() (bool, error) {
	if p.pos >= len(p.s) {
		return false, p.errorf("unexpected end of expression")
	}
	if p.s[p.pos] == '(' {
		p.pos++
		ok, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.pos >= len(p.s) || p.s[p.pos] != ')' {
			return false, p.errorf("missing ')'")
		}
		p.pos++
		return ok, nil
	}

	start := p.pos
	for p.pos < len(p.s) && isTokenByte(p.s[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return false, p.errorf("expected token")
	}
	return p.auths.Contains(p.s[start:p.pos]), nil
}

func (p *labelParser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("label %q at %d: %s: %w", p.s, p.pos, fmt.Sprintf(format, args...), apierrors.ErrInvalidLabel)
}

func isTokenByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == ':' || c == '.' || c == '/'
}

type noVisibility struct{}

func (noVisibility) Label(string, string) Label { return "" }

// NoVisibility labels nothing.
var NoVisibility VisibilityPolicy = noVisibility{}

// StaticVisibility labels qualifiers of all tables from a fixed map.
type StaticVisibility struct {
	Default    Label
	Qualifiers map[string]Label
}

func (v *StaticVisibility) Label(table, qualifier string) Label {
	if l, ok := v.Qualifiers[qualifier]; ok {
		return l
	}
	return v.Default
}

// StaticAuthorizations hands the same tokens to every reader.
type StaticAuthorizations Authorizations

func (a StaticAuthorizations) Authorizations(context.Context) Authorizations {
	return Authorizations(a)
}

type authorizationsKey struct{}

// WithAuthorizations attaches reader tokens to ctx for ContextAuthorizations.
func WithAuthorizations(ctx context.Context, auths Authorizations) context.Context {
	return context.WithValue(ctx, authorizationsKey{}, auths)
}

// ContextAuthorizations reads the tokens attached by WithAuthorizations,
// falling back to Default when ctx carries none.
type ContextAuthorizations struct {
	Default Authorizations
}

func (a ContextAuthorizations) Authorizations(ctx context.Context) Authorizations {
	if auths, ok := ctx.Value(authorizationsKey{}).(Authorizations); ok {
		return auths
	}
	return a.Default
}
