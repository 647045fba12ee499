package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with defaults for this project. WriteTimeout leaves room for
// report generation and ledger confirmation inside a request.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
