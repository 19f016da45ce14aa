package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// maxRequestBodySize bounds JSON request bodies accepted by the command
// API, mirroring the daemon API's own limit.
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler returns the Node Controller's HTTP command API (spec §4.E:
// "inbound commands from the outside"), scoped to exactly the command
// set the event loop accepts: CreateTopic, JoinTopic, LeaveTopic,
// Publish, ListPeers, Shutdown.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/peers", c.handlePeerList)
	mux.HandleFunc("POST /v1/topics", c.handleCreateTopic)
	mux.HandleFunc("POST /v1/topics/{name}/join", c.handleJoinTopic)
	mux.HandleFunc("DELETE /v1/topics/{name}/join", c.handleLeaveTopic)
	mux.HandleFunc("POST /v1/topics/{name}/publish", c.handlePublish)
	mux.HandleFunc("POST /v1/shutdown", c.handleShutdown)
	return mux
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (c *Controller) handlePeerList(w http.ResponseWriter, r *http.Request) {
	records, err := c.ListPeers(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	infos := make([]PeerInfo, 0, len(records))
	for _, rec := range records {
		addrs := make([]string, 0, len(rec.Addresses))
		for a := range rec.Addresses {
			addrs = append(addrs, a)
		}
		infos = append(infos, PeerInfo{
			ID:        rec.ID.String(),
			Addresses: addrs,
			FirstSeen: rec.FirstSeen.Format(time.RFC3339),
			LastSeen:  rec.LastSeen.Format(time.RFC3339),
			Source:    string(rec.Source),
		})
	}
	respondJSON(w, http.StatusOK, infos)
}

func (c *Controller) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := c.CreateTopic(r.Context(), req.Name); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "created"})
}

func (c *Controller) handleJoinTopic(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "topic name is required")
		return
	}
	if err := c.JoinTopic(r.Context(), name); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (c *Controller) handleLeaveTopic(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "topic name is required")
		return
	}
	if err := c.LeaveTopic(r.Context(), name); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (c *Controller) handlePublish(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "topic name is required")
		return
	}
	var req PublishRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.Publish(r.Context(), name, req.Payload); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

func (c *Controller) handleShutdown(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	// The request's own context is canceled once this handler returns, so
	// Shutdown runs against a fresh background context after the response
	// has had a chance to flush.
	go func() {
		time.Sleep(100 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownDeadline+time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	}()
}
