package main

import (
	"net/http"

	"github.com/angeloszaimis/addrselect/internal/handler"
	"github.com/angeloszaimis/addrselect/internal/metrics"
)

func setupRouter(selectorHandler *handler.SelectorHandler, metricsCollector *metrics.Collector, exporter *metrics.Exporter, algorithm string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /addresses", selectorHandler.ListAddresses)
	mux.HandleFunc("POST /addresses", selectorHandler.AddAddress)
	mux.HandleFunc("DELETE /addresses", selectorHandler.RemoveAddress)
	mux.HandleFunc("GET /addresses/state", selectorHandler.State)
	mux.HandleFunc("GET /next", selectorHandler.Next)
	mux.HandleFunc("POST /report", selectorHandler.Report)
	mux.HandleFunc("GET /metrics", metricsCollector.Handler(algorithm))
	mux.Handle("GET /metrics/prometheus", exporter.Handler())

	return mux
}
