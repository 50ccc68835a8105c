// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbc

import (
	"context"
	"errors"
	"sort"
	"sync"

	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/internal/pkg/log"
)

// Registry holds named connection configs and opens each handle on first use.
type Registry struct {
	mu       sync.Mutex
	configs  map[string]Config
	conns    map[string]*Dbc
	versions map[string]int
	open     func(context.Context, Config) (*Dbc, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		configs:  make(map[string]Config),
		conns:    make(map[string]*Dbc),
		versions: make(map[string]int),
		open:     Open,
	}
}

// Set registers cfg under name. Replacing a config closes the handle opened
// for the previous one; the next Get reconnects.
func (r *Registry) Set(name string, cfg Config) {
	cfg = cfg.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.configs[name]; ok {
		log.Warn("[DbcPool] interrupt connecting to %s", prev.address())
		log.Info("[DbcPool] reconnect to %s", cfg.address())
		if conn, ok := r.conns[name]; ok {
			if err := conn.Close(); err != nil {
				log.Error("[DbcPool] close dbc<%s>: %v", name, err)
			}
			delete(r.conns, name)
		}
	} else {
		log.Info("[DbcPool] connect to %s", cfg.address())
	}
	r.configs[name] = cfg
	r.versions[name]++
}

// Get returns the handle registered under name, opening it if needed. The
// lock is not held while connecting; when two callers race, the first handle
// stored wins and the other is closed.
func (r *Registry) Get(ctx context.Context, name string) (*Dbc, error) {
	for {
		r.mu.Lock()
		if conn, ok := r.conns[name]; ok {
			r.mu.Unlock()
			return conn, nil
		}
		cfg, ok := r.configs[name]
		version := r.versions[name]
		r.mu.Unlock()
		if !ok {
			return nil, dbErrors.DbcNotFound(name)
		}

		conn, err := r.open(ctx, cfg)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		stored, ok := r.conns[name]
		if !ok && r.versions[name] == version {
			r.conns[name] = conn
			r.mu.Unlock()
			return conn, nil
		}
		r.mu.Unlock()

		if err := conn.Close(); err != nil {
			log.Error("[DbcPool] close dbc<%s>: %v", name, err)
		}
		if ok {
			return stored, nil
		}
		// config replaced while connecting
	}
}

// All returns the registered names in order.
func (r *Registry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every open handle. Configs stay registered.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.conns, name)
	}
	return errors.Join(errs...)
}
