package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"i4.energy/across/mqttgw/mqtt"
)

// Session is the cellular MQTT session published through by the API.
type Session interface {
	SessionID() int
	State() string
	Publish(ctx context.Context, topic, message string, qos int, retained bool) (int, error)
}

// Device reports the radio state of the modem.
type Device interface {
	RSSI(ctx context.Context) (int, error)
	IsNetworkAttached(ctx context.Context) (bool, error)
}

// Server handles incoming HTTP requests for publishing through the
// configured session
type Server struct {
	Logger  *slog.Logger
	Session Session
	Modem   Device
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /publish", s.handlePublish)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// handlePublish publishes a message through the cellular session
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	type PublishRequest struct {
		Topic    string `json:"topic"`
		Message  string `json:"message"`
		QoS      int    `json:"qos"`
		Retained bool   `json:"retained"`
	}
	type PublishResponse struct {
		MsgID int `json:"msg_id"`
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Topic == "" {
		s.sendError(w, "'topic' field is required", http.StatusBadRequest)
		return
	}
	if req.QoS < 0 || req.QoS > 2 {
		s.sendError(w, "'qos' must be 0, 1 or 2", http.StatusBadRequest)
		return
	}

	id, err := s.Session.Publish(r.Context(), req.Topic, req.Message, req.QoS, req.Retained)
	if err != nil {
		s.Logger.Error("Failed to publish", "error", err, "topic", req.Topic)
		status := http.StatusInternalServerError
		if errors.Is(err, mqtt.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		s.sendError(w, err.Error(), status)
		return
	}

	s.Logger.Info("Message published", "topic", req.Topic, "msg_id", id, "message_length", len(req.Message))
	s.sendJSON(w, PublishResponse{MsgID: id}, http.StatusOK)
}

// handleStatus reports the session state and, when the modem answers, the
// radio state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Session  int    `json:"session"`
		State    string `json:"state"`
		RSSI     *int   `json:"rssi,omitempty"`
		Attached *bool  `json:"attached,omitempty"`
	}

	resp := StatusResponse{
		Session: s.Session.SessionID(),
		State:   s.Session.State(),
	}
	if s.Modem != nil {
		if rssi, err := s.Modem.RSSI(r.Context()); err == nil {
			resp.RSSI = &rssi
		} else {
			s.Logger.Debug("Failed to read signal quality", "error", err)
		}
		if attached, err := s.Modem.IsNetworkAttached(r.Context()); err == nil {
			resp.Attached = &attached
		} else {
			s.Logger.Debug("Failed to read attach state", "error", err)
		}
	}
	s.sendJSON(w, resp, http.StatusOK)
}
