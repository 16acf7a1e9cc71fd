package routers

import (
	"tangle-core/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes of the node API
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Attaches a message, as JSON or serialized bytes
	r.HandleFunc("/messages", h.SubmitMessage).Methods("POST")

	r.HandleFunc("/messages/{id}", h.GetMessage).Methods("GET")

	// Solid, milestone and confirmation state plus tip selection indexes
	r.HandleFunc("/messages/{id}/metadata", h.GetMessageMetadata).Methods("GET")

	// Approvers of a message, known or not yet received
	r.HandleFunc("/messages/{id}/children", h.GetMessageChildren).Methods("GET")

	// Confirmed balance of an address
	r.HandleFunc("/addresses/{address}", h.GetAddressBalance).Methods("GET")

	// Messages with an indexation payload under the given key
	r.HandleFunc("/indexation/{index}", h.GetIndexation).Methods("GET")

	r.HandleFunc("/milestones/{index}", h.GetMilestone).Methods("GET")

	r.HandleFunc("/info", h.GetInfo).Methods("GET")

	r.HandleFunc("/metrics", h.GetMetrics).Methods("GET")
}
