// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command harvesterd periodically harvests every configured EIDA
// node's routing configuration into a catalog.Store, per spec.md
// §4.3. It has no HTTP surface of its own beyond metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/eida/federator/config"
	"github.com/eida/federator/harvester"
	"github.com/eida/federator/metrics"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	metricsBind := flag.String("metrics", "", "[ip]:port for the Prometheus metrics interface")
	once := flag.Bool("once", false, "harvest once and exit, instead of running on an interval")
	var backend config.StoreBackend
	flag.Var(&backend, "backend", "impl[:address] of the catalog store")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath, cfg)
		if err != nil {
			logrus.WithError(err).Fatal("harvesterd: could not load YAML configuration")
			return
		}
	}
	if *metricsBind != "" {
		cfg.MetricsBind = *metricsBind
	}
	if backend.Implementation == "" {
		if err := backend.Set(cfg.CatalogBackend); err != nil {
			logrus.WithError(err).Fatal("harvesterd: bad catalog_backend in configuration")
			return
		}
	}
	if len(cfg.Nodes) == 0 {
		logrus.Fatal("harvesterd: no nodes configured")
		return
	}

	store, err := backend.Store()
	if err != nil {
		logrus.WithError(err).Fatal("harvesterd: could not build catalog store")
		return
	}

	var nodes []harvester.Node
	for _, n := range cfg.Nodes {
		nodes = append(nodes, harvester.Node{ID: n.ID, RoutingConfigURL: n.RoutingConfigURL})
	}

	h := &harvester.Harvester{Store: store, Logger: logrus.StandardLogger()}

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		logrus.WithField("bind", cfg.MetricsBind).Info("harvesterd: serving metrics")
		if err := http.ListenAndServe(cfg.MetricsBind, metricsMux); err != nil {
			logrus.WithError(err).Error("harvesterd: metrics server exited")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	runOnce := func() {
		results := h.HarvestAll(ctx, nodes)
		for _, r := range results {
			if r.Err != nil {
				logrus.WithError(r.Err).WithField("node", r.Node.ID).Warn("harvesterd: node harvest failed")
			}
		}
	}

	runOnce()
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.HarvestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
