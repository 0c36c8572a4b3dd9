package control

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET", "OPTIONS")
	router.HandleFunc("/state", h.GetState).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if h.socket != nil {
		router.HandleFunc("/ws", h.socket.HandleWebSocket)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/refresh", h.Refresh).Methods("POST", "OPTIONS")
	api.HandleFunc("/assignment/respond", h.RespondToAssignment).Methods("POST", "OPTIONS")
	api.HandleFunc("/requests", h.FetchRequests).Methods("POST", "OPTIONS")
	api.HandleFunc("/requests/{id}/respond", h.RespondToRequest).Methods("POST", "OPTIONS")
	api.HandleFunc("/rider/online", h.GoOnline).Methods("POST", "OPTIONS")
	api.HandleFunc("/rider/offline", h.GoOffline).Methods("POST", "OPTIONS")
	api.HandleFunc("/order/picked-up", h.MarkPickedUp).Methods("POST", "OPTIONS")
	api.HandleFunc("/order/delivered", h.MarkDelivered).Methods("POST", "OPTIONS")
	api.HandleFunc("/location", h.UpdateLocation).Methods("POST", "OPTIONS")

	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(h.logger))
	return router
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			// Probes and scrapes log at debug level.
			entry := logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).Milliseconds(),
			})
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				entry.Debug("Request completed")
				return
			}
			entry.Info("Request completed")
		})
	}
}

func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
