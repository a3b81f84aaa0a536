// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bastion-agent/bastion/internal/session"
	"github.com/bastion-agent/bastion/internal/store"
	basterr "github.com/bastion-agent/bastion/pkg/errors"
)

// startRunRequest is the POST /v1/runs body.
type startRunRequest struct {
	Goal string `json:"goal"`
}

// runResponse is the wire shape of one session.
type runResponse struct {
	ID           string            `json:"id"`
	Goal         string            `json:"goal"`
	Status       string            `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	Output       string            `json:"output,omitempty"`
	Iterations   int               `json:"iterations"`
	History      []messageResponse `json:"history,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type messageResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCalls  []toolCallResponse `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolName   string             `json:"tool_name,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type toolCallResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type auditResponse struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Check     string    `json:"check"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
	Tool      string    `json:"tool,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, basterr.Wrap(err, basterr.CodeServerRequestInvalid, "decoding request body"))
		return
	}
	if req.Goal == "" {
		s.writeError(w, basterr.New(basterr.CodeServerRequestInvalid, "goal is required"))
		return
	}

	// The run is bounded by its own timeout, not the request context: a
	// dropped client connection must not abort an in-flight session.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RunTimeout)
	defer cancel()

	sess, err := s.driver.Run(ctx, req.Goal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunResponse(sess, true))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.driver.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(sess, true))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	sessions, err := s.driver.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]runResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toRunResponse(sess, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// 404 for unknown sessions rather than an empty trail.
	if _, err := s.driver.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	events, err := s.driver.Audit(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]auditResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toAuditResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func toRunResponse(s *session.Session, includeHistory bool) runResponse {
	resp := runResponse{
		ID:           s.ID,
		Goal:         s.Goal,
		Status:       string(s.Status),
		StatusReason: s.StatusReason,
		Output:       s.Output,
		Iterations:   s.Iterations,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if !includeHistory {
		return resp
	}
	for _, msg := range s.History {
		m := messageResponse{
			ID:         msg.ID,
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
			Metadata:   msg.Metadata,
			CreatedAt:  msg.CreatedAt,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, toolCallResponse{
				ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
			})
		}
		resp.History = append(resp.History, m)
	}
	return resp
}

func toAuditResponse(ev store.AuditEvent) auditResponse {
	return auditResponse{
		ID:        ev.ID,
		Stage:     ev.Stage,
		Check:     ev.Check,
		Decision:  ev.Decision,
		Reason:    ev.Reason,
		Tool:      ev.Tool,
		CreatedAt: ev.CreatedAt,
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := basterr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(basterr.CodeOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
