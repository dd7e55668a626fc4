package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/auracord/auracord-node/pkg/network"
	"github.com/auracord/auracord-node/pkg/transport"
)

// StatusResponse summarizes the local node
type StatusResponse struct {
	PeerID      string `json:"peerId"`
	Username    string `json:"username"`
	Identified  bool   `json:"identified"`
	Friends     int    `json:"friends"`
	Pending     int    `json:"pendingRequests"`
	Connections int    `json:"connections"`
	Messages    int    `json:"messages"`
	Energy      int    `json:"energy"`
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		PeerID:      s.engine.LocalID(),
		Username:    s.engine.Username(),
		Identified:  s.engine.Identified(),
		Friends:     len(s.engine.Friends()),
		Pending:     len(s.engine.PendingRequests()),
		Connections: len(s.engine.Connections()),
		Messages:    len(s.engine.Messages()),
		Energy:      s.engine.Energy(),
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "identified": s.engine.Identified()})
}

// handleConnections handles GET /api/v1/connections
func (s *Server) handleConnections(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.Connections()})
}

type peerRequest struct {
	RemoteID string `json:"remoteId" binding:"required"`
}

// handleConnect handles POST /api/v1/connections
func (s *Server) handleConnect(c *gin.Context) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	conn, err := s.engine.ConnectPeer(c.Request.Context(), req.RemoteID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: network.ConnectionInfo{
		RemoteID:   conn.RemoteID(),
		RemoteName: conn.RemoteName(),
		Open:       conn.Open(),
	}})
}

// handleFriends handles GET /api/v1/friends
func (s *Server) handleFriends(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.Friends()})
}

// handleFriendRequests handles GET /api/v1/friends/requests
func (s *Server) handleFriendRequests(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.PendingRequests()})
}

// handleSendFriendRequest handles POST /api/v1/friends/requests
func (s *Server) handleSendFriendRequest(c *gin.Context) {
	var req peerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.engine.SendFriendRequest(c.Request.Context(), req.RemoteID); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Friend request sent"})
}

// handleAcceptFriend handles POST /api/v1/friends/requests/:id/accept
func (s *Server) handleAcceptFriend(c *gin.Context) {
	if err := s.engine.AcceptFriend(c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Friend added"})
}

// handleRejectFriend handles POST /api/v1/friends/requests/:id/reject
func (s *Server) handleRejectFriend(c *gin.Context) {
	if err := s.engine.RejectFriend(c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Friend request rejected"})
}

// handleMessages handles GET /api/v1/messages
func (s *Server) handleMessages(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.Messages()})
}

type sendMessageRequest struct {
	RemoteID string `json:"remoteId" binding:"required"`
	Text     string `json:"text" binding:"required"`
}

// handleSendMessage handles POST /api/v1/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	msg, err := s.engine.SendMessage(c.Request.Context(), req.RemoteID, req.Text)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: msg})
}

// handleClearMessages handles DELETE /api/v1/messages
func (s *Server) handleClearMessages(c *gin.Context) {
	if err := s.engine.ClearHistory(); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "History cleared"})
}

type reactionRequest struct {
	RemoteID string `json:"remoteId" binding:"required"`
	Emoji    string `json:"emoji" binding:"required"`
}

// handleReaction handles POST /api/v1/messages/:id/reactions. The
// local apply and the network send happen here, once each. A delivery
// failure does not lose the user's own reaction: the local copy is
// still mutated and the engine notice carries the failure.
func (s *Server) handleReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	msgID := c.Param("id")
	if err := s.engine.SendReaction(c.Request.Context(), req.RemoteID, msgID, req.Emoji); errors.Is(err, network.ErrFriendshipRequired) {
		s.renderError(c, err)
		return
	}
	s.engine.ApplyLocalReaction(msgID, req.Emoji)
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Reaction sent"})
}

type nameChangeRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleNameChange handles PUT /api/v1/profile/name
func (s *Server) handleNameChange(c *gin.Context) {
	var req nameChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.engine.BroadcastNameChange(req.Name); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Name updated"})
}

// handleCallState handles GET /api/v1/call
func (s *Server) handleCallState(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.CallState()})
}

type startCallRequest struct {
	RemoteID string `json:"remoteId" binding:"required"`
	Video    bool   `json:"video"`
}

// handleStartCall handles POST /api/v1/call
func (s *Server) handleStartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.engine.Calls().Start(c.Request.Context(), req.RemoteID, req.Video); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.CallState()})
}

// handleAnswerCall handles POST /api/v1/call/answer
func (s *Server) handleAnswerCall(c *gin.Context) {
	if err := s.engine.Calls().Answer(); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.CallState()})
}

// handleRejectCall handles POST /api/v1/call/reject
func (s *Server) handleRejectCall(c *gin.Context) {
	if err := s.engine.Calls().Reject(); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Call rejected"})
}

// handleEndCall handles POST /api/v1/call/end
func (s *Server) handleEndCall(c *gin.Context) {
	if err := s.engine.Calls().End(); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.engine.CallState()})
}

// handleNotice handles GET /api/v1/notice
func (s *Server) handleNotice(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notice": s.engine.Notice()})
}

// handleClearNotice handles DELETE /api/v1/notice
func (s *Server) handleClearNotice(c *gin.Context) {
	s.engine.ClearNotice()
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// renderError maps engine errors onto HTTP status codes.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, network.ErrFriendshipRequired):
		status = http.StatusForbidden
	case errors.Is(err, network.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, network.ErrInvalidUsername):
		status = http.StatusBadRequest
	case errors.Is(err, network.ErrCallBusy):
		status = http.StatusConflict
	case errors.Is(err, network.ErrNoIncomingCall):
		status = http.StatusNotFound
	case errors.Is(err, network.ErrNotIdentified):
		status = http.StatusServiceUnavailable
	case errors.Is(err, transport.ErrPeerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transport.ErrDevicesDenied):
		status = http.StatusPreconditionFailed
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
