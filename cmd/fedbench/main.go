// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package fedbench provides a load-generation and smoke-test tool for
// a running federatord/routingresolverd, the same shape as the
// teacher's coordbench: a shared benchWork runner parameterized by
// concurrency, with one urfave/cli subcommand per operation.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli"
)

type benchWork struct {
	Client      *http.Client
	BaseURL     string
	Concurrency int
}

func (bench *benchWork) Run(runner func()) {
	wg := sync.WaitGroup{}
	wg.Add(bench.Concurrency)
	for i := 0; i < bench.Concurrency; i++ {
		go func() {
			defer wg.Done()
			runner()
		}()
	}
	wg.Wait()
}

var bench benchWork

// sampleSelectors is a small, broadly-matching selector list used by
// default when a command doesn't take its own POST body.
const sampleSelectors = "* * * * 2020-01-01T00:00:00 2020-01-02T00:00:00\n"

var resolveQuery = cli.Command{
	Name:  "resolve",
	Usage: "repeatedly query the routing resolver",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "count", Value: 100, Usage: "number of requests to issue per worker"},
		cli.StringFlag{Name: "service", Value: "dataselect", Usage: "service to resolve routes for"},
	},
	Action: func(c *cli.Context) {
		count := c.Int("count")
		service := c.String("service")
		var total, errs int64
		started := time.Now()
		bench.Run(func() {
			for i := 0; i < count; i++ {
				url := fmt.Sprintf("%s/eidaws/routing/1/query?service=%s", bench.BaseURL, service)
				resp, err := bench.Client.Post(url, "text/plain", bytes.NewBufferString(sampleSelectors))
				atomic.AddInt64(&total, 1)
				if err != nil {
					atomic.AddInt64(&errs, 1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					atomic.AddInt64(&errs, 1)
				}
			}
		})
		elapsed := time.Since(started)
		fmt.Printf("resolve: %d requests, %d errors, %s elapsed, %.1f req/s\n",
			total, errs, elapsed, float64(total)/elapsed.Seconds())
	},
}

var federateQuery = cli.Command{
	Name:  "query",
	Usage: "repeatedly issue federated dataselect/station/wfcatalog queries",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "count", Value: 10, Usage: "number of requests to issue per worker"},
		cli.StringFlag{Name: "service", Value: "dataselect", Usage: "fdsnws/eidaws service path segment"},
	},
	Action: func(c *cli.Context) {
		count := c.Int("count")
		service := c.String("service")
		var total, errs int64
		var bytesRead int64
		started := time.Now()
		bench.Run(func() {
			for i := 0; i < count; i++ {
				url := fmt.Sprintf("%s/%s", bench.BaseURL, servicePath(service))
				resp, err := bench.Client.Post(url, "text/plain", bytes.NewBufferString(sampleSelectors))
				atomic.AddInt64(&total, 1)
				if err != nil {
					atomic.AddInt64(&errs, 1)
					continue
				}
				n, _ := io.Copy(io.Discard, resp.Body)
				atomic.AddInt64(&bytesRead, n)
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					atomic.AddInt64(&errs, 1)
				}
			}
		})
		elapsed := time.Since(started)
		fmt.Printf("query: %d requests, %d errors, %d bytes, %s elapsed, %.1f req/s\n",
			total, errs, bytesRead, elapsed, float64(total)/elapsed.Seconds())
	},
}

func servicePath(service string) string {
	switch service {
	case "station":
		return "fdsnws/station/1/query"
	case "wfcatalog":
		return "eidaws/wfcatalog/1/query"
	default:
		return "fdsnws/dataselect/1/query"
	}
}

func main() {
	app := cli.NewApp()
	app.Usage = "load-test and smoke-test a federator deployment"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "base-url",
			Value: "http://localhost:8080",
			Usage: "base URL of the federatord/routingresolverd deployment",
		},
		cli.IntFlag{
			Name:  "concurrency",
			Value: runtime.NumCPU(),
			Usage: "run this many workers in parallel",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 30 * time.Second,
			Usage: "per-request HTTP client timeout",
		},
	}
	app.Commands = []cli.Command{
		resolveQuery,
		federateQuery,
	}
	app.Before = func(c *cli.Context) error {
		bench.BaseURL = c.String("base-url")
		bench.Concurrency = c.Int("concurrency")
		bench.Client = &http.Client{Timeout: c.Duration("timeout")}
		return nil
	}
	app.RunAndExitOnError()
}
