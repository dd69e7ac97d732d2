package handlers

import (
	"net/http"

	v1ws "github.com/beagleboard/beaglemind/internal/api/v1/handlers/websocket"
	v1mware "github.com/beagleboard/beaglemind/internal/api/v1/middleware"
	"github.com/beagleboard/beaglemind/internal/services"
	"github.com/gorilla/mux"
)

func RegisterV1Routes(router *mux.Router, services *services.Services) {
	// v1 routes, on the root router so method mismatches get a 405
	router.Handle("/v1/chat", v1mware.RateLimit("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleChat(services.GetChatService(), services.GetSessionService(), services.GetConfig(), w, r)
	}))).Methods("POST")

	router.Handle("/v1/models", v1mware.RateLimit("models")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleModels(services.GetBackends(), services.GetConfig(), w, r)
	}))).Methods("GET")

	router.HandleFunc("/v1/session/clear", func(w http.ResponseWriter, r *http.Request) {
		HandleClearSession(services.GetSessionService(), w, r)
	}).Methods("POST")

	router.Handle("/v1/ws", v1mware.RateLimit("ws")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v1ws.HandleChatWebSocket(services, w, r)
	}))).Methods("GET")
}
