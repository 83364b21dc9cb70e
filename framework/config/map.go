/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type matcher struct {
	name          string
	required      bool
	inheritGlobal bool
	defaultVal    func() (interface{}, error)
	mapper        func(Node) (interface{}, error)
	store         func(interface{})
}

// Map binds directives of a single configuration block to Go variables.
//
// Each component declares the directives it understands by calling
// String/Bool/Int/Duration/StringList/Custom, then calls Process to apply
// them against the actual parsed Nodes. This mirrors the reflective
// "declare, then process" idiom components use to read their own config
// sub-block without hand-rolling a switch over directive names.
type Map struct {
	Block   []Node
	Globals map[string]interface{}

	matchers map[string]*matcher
	allowUnknown bool
}

func NewMap(globals map[string]interface{}, block []Node) *Map {
	return &Map{Block: block, Globals: globals, matchers: make(map[string]*matcher)}
}

// AllowUnknown disables the "unknown directive" error from Process; the
// unrecognized nodes are returned instead so the caller can dispatch them
// itself.
func (m *Map) AllowUnknown() {
	m.allowUnknown = true
}

func (m *Map) register(name string, required, inheritGlobal bool, def func() (interface{}, error), mapper func(Node) (interface{}, error), store func(interface{})) {
	m.matchers[name] = &matcher{
		name:          name,
		required:      required,
		inheritGlobal: inheritGlobal,
		defaultVal:    def,
		mapper:        mapper,
		store:         store,
	}
}

func (m *Map) String(name string, required, inheritGlobal bool, def string, store *string) {
	m.register(name, required, inheritGlobal,
		func() (interface{}, error) { return def, nil },
		func(n Node) (interface{}, error) {
			if len(n.Args) != 1 {
				return nil, NodeErr(n, "expected exactly one argument")
			}
			return n.Args[0], nil
		},
		func(v interface{}) { *store = v.(string) })
}

func (m *Map) StringList(name string, required, inheritGlobal bool, def []string, store *[]string) {
	m.register(name, required, inheritGlobal,
		func() (interface{}, error) { return def, nil },
		func(n Node) (interface{}, error) {
			if len(n.Args) == 0 {
				return nil, NodeErr(n, "expected at least one argument")
			}
			return append([]string{}, n.Args...), nil
		},
		func(v interface{}) { *store = v.([]string) })
}

func (m *Map) Bool(name string, required, inheritGlobal bool, store *bool) {
	m.register(name, required, inheritGlobal,
		func() (interface{}, error) { return false, nil },
		func(n Node) (interface{}, error) {
			if len(n.Args) > 1 {
				return nil, NodeErr(n, "expected at most one argument")
			}
			if len(n.Args) == 0 {
				return true, nil
			}
			return strconv.ParseBool(n.Args[0])
		},
		func(v interface{}) { *store = v.(bool) })
}

func (m *Map) Int(name string, required, inheritGlobal bool, def int, store *int) {
	m.register(name, required, inheritGlobal,
		func() (interface{}, error) { return def, nil },
		func(n Node) (interface{}, error) {
			if len(n.Args) != 1 {
				return nil, NodeErr(n, "expected exactly one argument")
			}
			return strconv.Atoi(n.Args[0])
		},
		func(v interface{}) { *store = v.(int) })
}

func (m *Map) Duration(name string, required, inheritGlobal bool, def time.Duration, store *time.Duration) {
	m.register(name, required, inheritGlobal,
		func() (interface{}, error) { return def, nil },
		func(n Node) (interface{}, error) {
			if len(n.Args) != 1 {
				return nil, NodeErr(n, "expected exactly one argument")
			}
			return time.ParseDuration(n.Args[0])
		},
		func(v interface{}) { *store = v.(time.Duration) })
}

// Custom registers a directive with caller-provided parsing logic, for
// values that do not fit a scalar (size-with-unit, enum validated against a
// fixed set, a nested block parsed by another package).
func (m *Map) Custom(name string, required, inheritGlobal bool, def func() (interface{}, error), mapper func(Node) (interface{}, error), store func(interface{})) {
	m.register(name, required, inheritGlobal, def, mapper, store)
}

// Process matches every declared directive against m.Block, applying
// defaults (optionally inherited from Globals) for directives that are
// absent, and returns the Nodes that did not match anything declared.
func (m *Map) Process() ([]Node, error) {
	seen := make(map[string]bool, len(m.matchers))
	var unmatched []Node

	for _, n := range m.Block {
		mtr, ok := m.matchers[n.Name]
		if !ok {
			if m.allowUnknown {
				unmatched = append(unmatched, n)
				continue
			}
			return nil, NodeErr(n, "unknown directive")
		}
		if seen[n.Name] {
			return nil, NodeErr(n, "directive specified more than once")
		}
		seen[n.Name] = true

		val, err := mtr.mapper(n)
		if err != nil {
			return nil, err
		}
		mtr.store(val)
	}

	for name, mtr := range m.matchers {
		if seen[name] {
			continue
		}
		if mtr.inheritGlobal {
			if v, ok := m.Globals[name]; ok {
				mtr.store(v)
				continue
			}
		}
		if mtr.required {
			return nil, fmt.Errorf("missing required directive: %s", name)
		}
		def, err := mtr.defaultVal()
		if err != nil {
			return nil, fmt.Errorf("default value for %s: %w", name, err)
		}
		mtr.store(def)
	}

	return unmatched, nil
}

// Directive looks up the first top-level node with the given name, without
// going through the declare-then-Process flow, for one-off lookups.
func Directive(block []Node, name string) (Node, bool) {
	for _, n := range block {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

func JoinArgs(args []string) string {
	return strings.Join(args, " ")
}
