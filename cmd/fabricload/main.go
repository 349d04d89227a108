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

// fabricload is a tiny, dependency-free HTTP load generator for the
// central controller's weight-document surface. It reuses connections
// (keep-alive) and supports concurrency so it can exercise
// /current_weights, /stats, and the manual /force_sync action without an
// external tool.
//
// Usage examples:
//
//	fabricload -base=http://127.0.0.1:8080 -mode=read -n=5000 -c=16
//	fabricload -base=http://127.0.0.1:8080 -mode=resync -n=200 -c=4
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeRead   modeType = "read"
	modeStats  modeType = "stats"
	modeResync modeType = "resync"
)

func main() {
	var (
		base       = flag.String("base", "http://127.0.0.1:8081", "Base URL including scheme and host, e.g. http://127.0.0.1:8081")
		modeS      = flag.String("mode", string(modeRead), "Mode: read|stats|resync")
		N          = flag.Int("n", 2000, "Total requests to send")
		conc       = flag.Int("c", 8, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeRead && m != modeStats && m != modeResync {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want read|stats|resync)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	baseURL := strings.TrimRight(*base, "/")
	var fullPath string
	method := http.MethodGet
	switch m {
	case modeRead:
		fullPath = baseURL + "/current_weights"
	case modeStats:
		fullPath = baseURL + "/stats"
	case modeResync:
		fullPath = baseURL + "/force_sync"
		method = http.MethodPost
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var done, failed int64

	worker := func(id, count int) {
		defer atomic.AddInt64(&done, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			req, _ := http.NewRequestWithContext(ctx, method, fullPath, nil)
			resp, err := client.Do(req)
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			} else {
				atomic.AddInt64(&failed, 1)
				time.Sleep(200 * time.Microsecond)
			}
		}
	}

	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("fabricload: mode=%s N=%d c=%d go=%d failed=%d Duration=%s Throughput=%.0f req/s\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), failed, elapsed.Truncate(time.Millisecond), ops)
}
