package main

import (
	"net/http"

	"github.com/angeloszaimis/self-healing/internal/handler"
)

func setupRouter(api *handler.API) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/", api.Routes())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
