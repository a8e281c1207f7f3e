// Copyright 2026 Atelier Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelierhq/atelier/pkg/publish"
	"github.com/atelierhq/atelier/pkg/workflow"
)

// apiError is the uniform error body.
type apiError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": apiError{Code: code, Message: message}})
}

func failNotFound(c *gin.Context, err error) {
	fail(c, http.StatusNotFound, "not_found", err.Error())
}

// handleSubmit accepts a workflow. With await_completion the response
// carries the terminal snapshot; otherwise 202 with the pending one.
func (s *Server) handleSubmit(c *gin.Context) {
	var req workflow.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	snap, err := s.engine.Submit(c.Request.Context(), req)
	if err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": apiError{
				Code: verr.Code, Field: verr.Field, Message: verr.Message,
			}})
			return
		}
		fail(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	status := http.StatusAccepted
	if req.AwaitCompletion {
		status = http.StatusOK
	}
	c.JSON(status, snap)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": s.engine.List()})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.engine.Status(c.Param("id"))
	if err != nil {
		failNotFound(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCancel(c *gin.Context) {
	err := s.engine.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	case errors.Is(err, workflow.ErrAlreadyTerminal):
		fail(c, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, workflow.ErrNotFound):
		failNotFound(c, err)
	default:
		fail(c, http.StatusInternalServerError, "internal", err.Error())
	}
}

type publishRequest struct {
	Visibility string `json:"visibility"`
	Token      string `json:"token,omitempty"`
	Username   string `json:"username,omitempty"`
}

// handlePublish pushes a completed workflow's project to the remote
// host. Request-supplied credentials override the configured ones.
func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Visibility == "" {
		req.Visibility = "private"
	}
	if req.Visibility != "private" && req.Visibility != "public" {
		fail(c, http.StatusBadRequest, "invalid_request", "visibility must be public or private")
		return
	}

	var creds *publish.Credentials
	if req.Token != "" || req.Username != "" {
		parsed, err := publish.NewCredentials(req.Token, req.Username)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_credentials", err.Error())
			return
		}
		creds = &parsed
	}

	res, err := s.engine.PublishProject(c.Request.Context(), c.Param("id"), req.Visibility, creds)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, workflow.ErrNotFound):
		failNotFound(c, err)
	case errors.Is(err, workflow.ErrNotCompleted):
		fail(c, http.StatusConflict, "not_completed", err.Error())
	case errors.Is(err, publish.ErrNameConflict):
		fail(c, http.StatusConflict, "name_conflict", err.Error())
	default:
		fail(c, http.StatusBadGateway, "publish_failed", err.Error())
	}
}
