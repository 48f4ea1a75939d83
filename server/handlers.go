package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"email-signer/flow"
	"email-signer/shared"
)

type sessionResponse struct {
	ID      string                  `json:"id"`
	Kind    flow.SessionKind        `json:"kind"`
	State   string                  `json:"state"`
	Outcome *shared.ApprovalOutcome `json:"outcome,omitempty"`
	Logs    []string                `json:"logs"`
}

func renderSession(session *flow.Session) sessionResponse {
	resp := sessionResponse{
		ID:    session.ID,
		Kind:  session.Kind,
		State: session.State().String(),
		Logs:  session.Steps().Entries(),
	}
	if outcome, ok := session.Outcome(); ok {
		resp.Outcome = &outcome
	}
	return resp
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"wallet":   s.controller.Wallet() != nil,
	})
}

func (s *Server) registerHandler(c *gin.Context) {
	var in flow.RegistrationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		renderError(err.Error(), http.StatusBadRequest, c)
		return
	}

	session, err := s.sessions.CreateSession(flow.KindRegistration, flow.RegistrationKey(in.Email))
	if err != nil {
		renderError(err.Error(), http.StatusInternalServerError, c)
		return
	}
	// a client that goes away cancels the registration like a replacing request does
	stop := context.AfterFunc(c.Request.Context(), session.Close)
	defer func() {
		stop()
		s.sessions.CloseSession(session.ID)
	}()

	reg, err := s.controller.Register(session.Context(), session, in)
	if err != nil {
		status := http.StatusBadGateway
		if flow.IsPrecondition(err) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{
			"errors":  []gin.H{{"message": err.Error()}},
			"session": renderSession(session),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"registration": reg,
		"session":      renderSession(session),
	})
}

func (s *Server) accountHandler(c *gin.Context) {
	info, err := s.controller.Lookup(c.Param("email"))
	if err != nil {
		renderError(err.Error(), http.StatusInternalServerError, c)
		return
	}
	if info.AccountCode == "" && info.SafeAddress == nil {
		renderError("account not found", http.StatusNotFound, c)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) createApprovalHandler(c *gin.Context) {
	var in flow.ApprovalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		renderError(err.Error(), http.StatusBadRequest, c)
		return
	}

	req, err := s.controller.ValidateApproval(in)
	if err != nil {
		var precondition *shared.PreconditionError
		if errors.As(err, &precondition) {
			renderError(precondition.Message, http.StatusUnprocessableEntity, c)
			return
		}
		renderError(err.Error(), http.StatusInternalServerError, c)
		return
	}

	session, err := s.sessions.CreateSession(flow.KindApproval, flow.ApprovalKey(req))
	if err != nil {
		renderError(err.Error(), http.StatusInternalServerError, c)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		outcome := s.controller.Approve(session.Context(), session, in)
		s.logger.WithSession(session.ID).Info("Approval finished",
			zap.Bool("success", outcome.Success),
			zap.String("message", outcome.Message))
	}()

	c.JSON(http.StatusAccepted, gin.H{"id": session.ID})
}

func (s *Server) approvalHandler(c *gin.Context) {
	session, err := s.sessions.GetSession(c.Param("id"))
	if err != nil {
		renderError("session not found", http.StatusNotFound, c)
		return
	}
	session.Touch()
	c.JSON(http.StatusOK, renderSession(session))
}

func (s *Server) cancelApprovalHandler(c *gin.Context) {
	session, err := s.sessions.GetSession(c.Param("id"))
	if err != nil {
		renderError("session not found", http.StatusNotFound, c)
		return
	}
	if err := s.sessions.CloseSession(session.ID); err != nil {
		renderError(err.Error(), http.StatusNotFound, c)
		return
	}
	c.JSON(http.StatusOK, renderSession(session))
}
