package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"scrapetok/internal/api"
	"scrapetok/internal/auth"
	"scrapetok/internal/config"
	"scrapetok/internal/db"
	"scrapetok/internal/notify"
	"scrapetok/internal/orchestrator"
	"scrapetok/internal/service"
	"scrapetok/internal/store"
	"scrapetok/internal/upstream"
	"scrapetok/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, "migrations/001_init.sql"); err != nil {
		log.Fatalf("migration: %v", err)
	}

	st := store.New(sqdb)
	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		hash, err := auth.HashPassword(cfg.BootstrapAdminPassword)
		if err != nil {
			log.Fatalf("bootstrap admin hash: %v", err)
		}
		username, _, _ := strings.Cut(cfg.BootstrapAdminEmail, "@")
		if err := st.EnsureBootstrapAdmin(context.Background(), cfg.BootstrapAdminEmail, username, hash); err != nil {
			log.Fatalf("bootstrap admin create: %v", err)
		}
	}

	reg := upstream.NewRegistry(cfg)
	wh, err := warehouse.Open(cfg)
	if err != nil {
		log.Fatalf("warehouse: %v", err)
	}
	presets, err := orchestrator.Load(cfg.PresetsPath)
	if err != nil {
		log.Fatalf("presets: %v", err)
	}
	sender := notify.NewSender(cfg)

	svc := service.New(cfg, st, reg, wh, presets, sender)
	r := api.NewRouter(cfg, svc, reg)

	go func() {
		for range time.Tick(time.Hour) {
			if err := st.DeleteExpiredSessions(context.Background(), time.Now().UTC()); err != nil {
				log.Printf("session gc: %v", err)
			}
		}
	}()

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := hsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}
