package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ringline/internal/commands"
	"ringline/internal/domain/call"
	"ringline/internal/services"
	"ringline/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyHeader lets clients retry a mutation without executing it twice.
const IdempotencyHeader = "Idempotency-Key"

type CallHandler struct {
	bus     *commands.Bus
	service *services.CallService
}

func NewCallHandler(bus *commands.Bus, service *services.CallService) *CallHandler {
	return &CallHandler{bus: bus, service: service}
}

func (h *CallHandler) Create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req httpdto.CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	participants := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, raw := range req.ParticipantIDs {
		pid, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid participant id", "INVALID_REQUEST"))
			return
		}
		participants = append(participants, pid)
	}

	res, err := h.bus.Execute(c.Request.Context(), commands.CreateCallCommand{
		InitiatorID:         id.UserID,
		TenantID:            id.TenantID,
		ParticipantIDs:      participants,
		Kind:                call.Kind(req.Type),
		ChatChannel:         req.ChatChannel,
		IdempotencyKeyValue: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	created, err := payloadAs[services.CreateCallResult](res)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.CreateCallResponse{
		CallID:     created.CallID.String(),
		Credential: httpdto.ToCredentialDTO(created.Credential),
	}))
}

func (h *CallHandler) GetByID(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	item, err := h.service.GetCall(c.Request.Context(), callID, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ToCallDTO(item)))
}

func (h *CallHandler) List(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req httpdto.ListCallsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid query", "INVALID_REQUEST"))
		return
	}
	items, total, err := h.service.ListCalls(c.Request.Context(), id.UserID, req.Page, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListCallsResponse{Calls: httpdto.ToCallDTOs(items), Total: total}))
}

func (h *CallHandler) Accept(c *gin.Context) {
	res, ok := h.action(c, commands.TypeAcceptCall)
	if !ok {
		return
	}
	accepted, err := payloadAs[services.AcceptCallResult](res)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.AcceptCallResponse{
		CallID:     accepted.CallID.String(),
		Credential: httpdto.ToCredentialDTO(accepted.Credential),
	}))
}

func (h *CallHandler) Decline(c *gin.Context) { h.simpleAction(c, commands.TypeDeclineCall) }

func (h *CallHandler) End(c *gin.Context) { h.simpleAction(c, commands.TypeEndCall) }

func (h *CallHandler) Missed(c *gin.Context) { h.simpleAction(c, commands.TypeMarkMissed) }

func (h *CallHandler) Join(c *gin.Context) { h.simpleAction(c, commands.TypeJoinCall) }

func (h *CallHandler) Leave(c *gin.Context) { h.simpleAction(c, commands.TypeLeaveCall) }

func (h *CallHandler) simpleAction(c *gin.Context, commandType string) {
	res, ok := h.action(c, commandType)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"call_id": res.AggregateID}))
}

func (h *CallHandler) action(c *gin.Context, commandType string) (commands.Result, bool) {
	id, ok := identity(c)
	if !ok {
		return commands.Result{}, false
	}
	callID, ok := callIDParam(c)
	if !ok {
		return commands.Result{}, false
	}
	cmd := commands.NewCallAction(commandType, callID, id.UserID)
	cmd.IdempotencyKeyValue = c.GetHeader(IdempotencyHeader)
	res, err := h.bus.Execute(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return commands.Result{}, false
	}
	return res, true
}

func identity(c *gin.Context) (services.Identity, bool) {
	id, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return services.Identity{}, false
	}
	return id, true
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return uuid.Nil, false
	}
	return callID, true
}

func writeError(c *gin.Context, err error) {
	c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)).
		WithRequestID(c.Writer.Header().Get("X-Request-Id")))
}

// payloadAs reads a command result payload. Replayed results come back
// from the idempotency store as raw JSON.
func payloadAs[T any](res commands.Result) (T, error) {
	var out T
	switch p := res.Payload.(type) {
	case T:
		return p, nil
	case json.RawMessage:
		err := json.Unmarshal(p, &out)
		return out, err
	}
	return out, fmt.Errorf("unexpected command payload %T", res.Payload)
}
