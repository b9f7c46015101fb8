// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Command federatord serves the fdsnws-dataselect, fdsnws-station,
// and eidaws-wfcatalog federated query surfaces.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/eida/federator/config"
	"github.com/eida/federator/federator"
	"github.com/eida/federator/metrics"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	httpBind := flag.String("http", "", "[ip]:port for the federated query HTTP interface")
	metricsBind := flag.String("metrics", "", "[ip]:port for the Prometheus metrics interface")
	configPath := flag.String("config", "", "YAML configuration file")
	arenaRoot := flag.String("arena-root", "", "directory for the response-spooling arena")
	var backend config.StoreBackend
	flag.Var(&backend, "backend", "impl[:address][+cache=N] of the catalog store")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath, cfg)
		if err != nil {
			logrus.WithError(err).Fatal("federatord: could not load YAML configuration")
			return
		}
	}
	if *httpBind != "" {
		cfg.HTTPBind = *httpBind
	}
	if *metricsBind != "" {
		cfg.MetricsBind = *metricsBind
	}
	if *arenaRoot != "" {
		cfg.ArenaRoot = *arenaRoot
	}
	if backend.Implementation == "" {
		if err := backend.Set(cfg.CatalogBackend); err != nil {
			logrus.WithError(err).Fatal("federatord: bad catalog_backend in configuration")
			return
		}
	}

	store, err := backend.Store()
	if err != nil {
		logrus.WithError(err).Fatal("federatord: could not build catalog store")
		return
	}

	arena := &federator.Arena{
		Root:           cfg.ArenaRoot,
		SoftQuotaBytes: cfg.ArenaSoftQuotaMB * 1024 * 1024,
	}
	if err := arena.Open(); err != nil {
		logrus.WithError(err).Fatal("federatord: could not open response arena")
		return
	}
	defer arena.Close()

	f := &federator.Federator{
		Store: store,
		Arena: arena,
		Dispatcher: &federator.Dispatcher{
			GlobalConcurrency:      cfg.DispatchGlobalConcurrency,
			PerEndpointConcurrency: cfg.DispatchPerEndpointConcurrency,
		},
		Logger: logrus.StandardLogger(),
		Decompose: federator.DecomposeOptions{
			PostThreshold: cfg.PostThreshold,
			MaxBodyBytes:  cfg.MaxBodyBytes,
		},
	}

	r := mux.NewRouter()
	federator.PopulateRouter(r, f)

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		logrus.WithField("bind", cfg.MetricsBind).Info("federatord: serving metrics")
		if err := http.ListenAndServe(cfg.MetricsBind, metricsMux); err != nil {
			logrus.WithError(err).Error("federatord: metrics server exited")
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTPBind,
		Handler:      r,
		ReadTimeout:  time.Minute,
		WriteTimeout: 10 * time.Minute,
	}
	logrus.WithField("bind", cfg.HTTPBind).Info("federatord: serving federated queries")
	if err := srv.ListenAndServe(); err != nil {
		logrus.WithError(err).Fatal("federatord: HTTP server exited")
	}
}
