// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persistence

import (
	"errors"
	"fmt"
	"time"

	"fabricctl/internal/model"
)

// BuildPersister constructs a model.Persister based on a string selector.
// Supported adapters:
//   - "mock": in-process logger (default)
//   - "redis": idempotent Redis adapter
//   - "kafka": idempotent Kafka adapter (audit trail transport)
//   - "postgres": idempotent Postgres adapter; requires opts.PostgresDB to be
//     set to an already-opened *sql.DB (the caller owns the driver import,
//     e.g. `_ "github.com/lib/pq"`, and the connection string).
//
// Used by cmd/central (health blacklist and alert journal) and cmd/sdnapp
// (flow-audit mirror) so each process can pick its own backend without
// hard-wiring a client.
func BuildPersister(adapter string, opts DemoOptions) (model.Persister, error) {
	switch adapter {
	case "", "mock":
		return NewMockPersister(), nil
	case "redis":
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			// Use a real Redis client when address is provided.
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			// Fallback to logging client for dependency-free demo.
			evaler = LoggingRedisEvaler{}
		}
		r := NewRedisPersister(evaler, ttl)
		return NewIdemShim(r), nil
	case "kafka":
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "fabricctl-commits"
		}
		k := NewKafkaPersister(LoggingKafkaProducer{}, topic)
		return NewIdemShim(k), nil
	case "postgres":
		if opts.PostgresDB == nil {
			return nil, errors.New("postgres adapter requires DemoOptions.PostgresDB (*sql.DB); open one with sql.Open(\"postgres\", dsn) and register the lib/pq driver")
		}
		p := NewPostgresPersister(opts.PostgresDB, opts.PostgresCreateMissing)
		return NewIdemShim(p), nil
	default:
		return nil, fmt.Errorf("unknown persistence adapter: %s", adapter)
	}
}
