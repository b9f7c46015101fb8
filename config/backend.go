// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package config provides layered configuration for the federator's
// daemons: built-in defaults, overridden by an optional YAML file,
// overridden in turn by command-line flags. Nothing here is a global
// singleton; every daemon builds its own Config and threads it
// explicitly into the constructors it calls, per spec.md §9's design
// note that configuration should not be read implicitly from ambient
// state.
package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/eida/federator/catalog"
	"github.com/eida/federator/catalog/cache"
	"github.com/eida/federator/catalog/memory"
	"github.com/eida/federator/catalog/postgres"
)

// StoreBackend selects and builds a catalog.Store implementation from
// a command-line flag, the same "impl[:address]" convention as the
// teacher's backend.Backend, extended here with an optional
// "+cache=N" suffix to wrap the chosen backend in a resolve-result
// cache of the given size.
type StoreBackend struct {
	Implementation string
	Address        string
	CacheSize      int
}

// String renders a StoreBackend description, the flag.Value
// convention.
func (b *StoreBackend) String() string {
	s := b.Implementation
	if b.Address != "" {
		s += ":" + b.Address
	}
	if b.CacheSize > 0 {
		s += "+cache"
	}
	return s
}

// Set parses "impl[:address][+cache=N]" into a StoreBackend. This is
// part of the flag.Value interface.
func (b *StoreBackend) Set(param string) error {
	rest := param
	if idx := strings.Index(rest, "+cache"); idx >= 0 {
		cacheSpec := rest[idx+len("+cache"):]
		rest = rest[:idx]
		size := 4096
		if strings.HasPrefix(cacheSpec, "=") {
			n, err := strconv.Atoi(cacheSpec[1:])
			if err != nil {
				return errors.New("bad cache size in backend spec: " + param)
			}
			size = n
		}
		b.CacheSize = size
	}

	parts := strings.SplitN(rest, ":", 2)
	switch len(parts) {
	case 1:
		b.Implementation = parts[0]
		b.Address = ""
	case 2:
		b.Implementation = parts[0]
		b.Address = parts[1]
	}
	if b.Implementation != "memory" && b.Implementation != "postgres" {
		return errors.New("unknown catalog backend " + b.Implementation)
	}
	return nil
}

// Store builds the catalog.Store this backend describes. If
// Implementation is "postgres", Address is a lib/pq connection
// string and Store also runs pending migrations.
func (b *StoreBackend) Store() (catalog.Store, error) {
	var store catalog.Store
	switch b.Implementation {
	case "memory":
		store = memory.New()
	case "postgres":
		pg, err := postgres.New(b.Address)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		return nil, errors.New("unknown catalog backend " + b.Implementation)
	}
	if b.CacheSize > 0 {
		store = cache.New(store, b.CacheSize)
	}
	return store, nil
}
