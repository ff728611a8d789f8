package main

import (
	"database/sql"
	"net/http"

	"github.com/fury-esports/furybot/go/internal/adminhttp"
	"github.com/fury-esports/furybot/go/internal/timers"
)

func setupServer(cfg *Config, database *sql.DB, manager *timers.Manager) *http.Server {
	return adminhttp.New(database, manager).HTTPServer(cfg.HTTPAddr)
}
