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

// Package module holds the registry of pluggable relay adapters.
//
// gatewayd has exactly one extension point worth making pluggable: how a
// finished bundle (or a key-exchange message) actually reaches the local
// MTA. Everything else is wired directly since there's only ever one
// bundler, one scheduler, one history recorder per process.
package module

import "github.com/opaquemail/gateway/framework/config"

// Relay is implemented by every relay adapter (direct SMTP submission,
// sendmail-compatible subprocess).
type Relay interface {
	Init(cfg *config.Map) error
	Name() string
	// Send hands a finished RFC-5322 message to the local MTA.
	Send(from, to string, rfc5322 []byte) error
}

type FuncNewRelay func(instName string, args []string) (Relay, error)

var registry = map[string]FuncNewRelay{}

func Register(name string, fn FuncNewRelay) {
	registry[name] = fn
}

func New(name, instName string, args []string) (Relay, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, &UnknownRelayError{Name: name}
	}
	return fn(instName, args)
}

type UnknownRelayError struct {
	Name string
}

func (e *UnknownRelayError) Error() string {
	return "module: unknown relay adapter: " + e.Name
}
