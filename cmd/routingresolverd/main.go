// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command routingresolverd serves the eidaws-routing query surface
// over a catalog.Store, independent of the federator proper so the
// routing lookup can be deployed and scaled separately.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/eida/federator/config"
	"github.com/eida/federator/metrics"
	"github.com/eida/federator/resolver"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	httpBind := flag.String("http", "", "[ip]:port for the routing resolver HTTP interface")
	metricsBind := flag.String("metrics", "", "[ip]:port for the Prometheus metrics interface")
	configPath := flag.String("config", "", "YAML configuration file")
	var backend config.StoreBackend
	flag.Var(&backend, "backend", "impl[:address][+cache=N] of the catalog store")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath, cfg)
		if err != nil {
			logrus.WithError(err).Fatal("routingresolverd: could not load YAML configuration")
			return
		}
	}
	if *httpBind != "" {
		cfg.HTTPBind = *httpBind
	}
	if *metricsBind != "" {
		cfg.MetricsBind = *metricsBind
	}
	if backend.Implementation == "" {
		if err := backend.Set(cfg.CatalogBackend); err != nil {
			logrus.WithError(err).Fatal("routingresolverd: bad catalog_backend in configuration")
			return
		}
	}

	store, err := backend.Store()
	if err != nil {
		logrus.WithError(err).Fatal("routingresolverd: could not build catalog store")
		return
	}

	r := mux.NewRouter()
	resolver.PopulateRouter(r, store, logrus.StandardLogger())

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		logrus.WithField("bind", cfg.MetricsBind).Info("routingresolverd: serving metrics")
		if err := http.ListenAndServe(cfg.MetricsBind, metricsMux); err != nil {
			logrus.WithError(err).Error("routingresolverd: metrics server exited")
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTPBind,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logrus.WithField("bind", cfg.HTTPBind).Info("routingresolverd: serving routing queries")
	if err := srv.ListenAndServe(); err != nil {
		logrus.WithError(err).Fatal("routingresolverd: HTTP server exited")
	}
}
