package server

import (
	"net/http"

	"sheetgen/internal/middleware"
	"sheetgen/internal/server/handler"
)

func NewMux(
	generateHandler *handler.GenerateHandler,
	healthHandler *handler.HealthHandler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/generate", generateHandler.HandleGenerate)
	mux.HandleFunc("/ws/generate", generateHandler.HandleGenerateWS)
	mux.HandleFunc("/v1/cache/stats", generateHandler.HandleCacheStats)

	mux.HandleFunc("/v1/provider/test", healthHandler.HandleTestConnection)
	mux.HandleFunc("/healthz", healthHandler.HandleHealthz)

	return middleware.CORS(mux)
}
