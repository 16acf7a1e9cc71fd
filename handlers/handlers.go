package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"

	"tangle-core/logger"
	"tangle-core/models"
	"tangle-core/node"
)

const maxMessageSize = 32 * 1024

// Handler contains the HTTP handlers for the node API endpoints
type Handler struct {
	Node    *node.Node
	Metrics http.Handler
}

// NewHandler creates and returns a new Handler instance, metrics may be nil
func NewHandler(n *node.Node, metrics http.Handler) *Handler {
	return &Handler{Node: n, Metrics: metrics}
}

// messageRequest is the JSON form of a message; at most one payload may be set
type messageRequest struct {
	Parent1     models.MessageID    `json:"parent1"`
	Parent2     models.MessageID    `json:"parent2"`
	Nonce       uint64              `json:"nonce"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Indexation  *indexationRequest  `json:"indexation,omitempty"`
}

type indexationRequest struct {
	Index string `json:"index"`
	Data  string `json:"data,omitempty"`
}

func (r *messageRequest) message() (*models.Message, error) {
	msg := &models.Message{Parent1: r.Parent1, Parent2: r.Parent2, Nonce: r.Nonce}
	switch {
	case r.Transaction != nil && r.Indexation != nil:
		return nil, ierrors.New("a message carries at most one payload")
	case r.Transaction != nil:
		msg.Payload = r.Transaction
	case r.Indexation != nil:
		if r.Indexation.Index == "" {
			return nil, ierrors.New("indexation needs an index")
		}
		msg.Payload = &models.Indexation{Index: []byte(r.Indexation.Index), Data: []byte(r.Indexation.Data)}
	}
	return msg, nil
}

type messageResponse struct {
	MessageID   models.MessageID `json:"messageId"`
	Parent1     models.MessageID `json:"parent1"`
	Parent2     models.MessageID `json:"parent2"`
	PayloadType string           `json:"payloadType,omitempty"`
	Payload     models.Payload   `json:"payload,omitempty"`
	Nonce       uint64           `json:"nonce"`
}

type metadataResponse struct {
	MessageID      models.MessageID       `json:"messageId"`
	IsSolid        bool                   `json:"isSolid"`
	IsRequested    bool                   `json:"isRequested"`
	IsMilestone    bool                   `json:"isMilestone"`
	IsConfirmed    bool                   `json:"isConfirmed"`
	MilestoneIndex models.MilestoneIndex  `json:"milestoneIndex,omitempty"`
	ConeIndex      models.MilestoneIndex  `json:"coneIndex,omitempty"`
	OTRSI          *models.MilestoneIndex `json:"otrsi,omitempty"`
	YTRSI          *models.MilestoneIndex `json:"ytrsi,omitempty"`
	SolidifiedAt   int64                  `json:"solidificationTime,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func messageIDParam(w http.ResponseWriter, r *http.Request) (models.MessageID, bool) {
	id, err := models.MessageIDFromHex(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message id")
		return id, false
	}
	return id, true
}

// SubmitMessage handles POST requests attaching a message. JSON bodies carry the message fields,
// application/octet-stream bodies the serialized message.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var (
		id       models.MessageID
		inserted bool
		err      error
	)

	if r.Header.Get("Content-Type") == "application/octet-stream" {
		data, readErr := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
		if readErr != nil || len(data) > maxMessageSize {
			writeError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
		id, inserted, err = h.Node.Submit(data)
	} else {
		var req messageRequest
		if decodeErr := json.NewDecoder(io.LimitReader(r.Body, maxMessageSize)).Decode(&req); decodeErr != nil {
			logger.Logger.Error("Failed to decode message", zap.Error(decodeErr))
			writeError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
		msg, msgErr := req.message()
		if msgErr != nil {
			writeError(w, http.StatusBadRequest, msgErr.Error())
			return
		}
		id, inserted, err = h.Node.SubmitMessage(msg)
	}

	switch {
	case ierrors.Is(err, node.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logger.Logger.Error("Failed to submit message", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !inserted {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":   "Message already known",
			"messageId": id,
		})
		return
	}

	logger.Logger.Debug("Attached message", zap.String("message_id", id.String()))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "Message attached successfully",
		"messageId": id,
	})
}

// GetMessage handles GET requests for a message
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}

	msg, exists := h.Node.Message(id)
	if !exists {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}

	resp := messageResponse{
		MessageID: id,
		Parent1:   msg.Parent1,
		Parent2:   msg.Parent2,
		Payload:   msg.Payload,
		Nonce:     msg.Nonce,
	}
	if payloadType, hasPayload := msg.PayloadType(); hasPayload {
		resp.PayloadType = payloadType.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMessageMetadata handles GET requests for the metadata of a message
func (h *Handler) GetMessageMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}

	meta, exists := h.Node.Metadata(id)
	if !exists {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}

	resp := metadataResponse{
		MessageID:      id,
		IsSolid:        meta.IsSolid(),
		IsRequested:    meta.IsRequested(),
		IsMilestone:    meta.IsMilestone(),
		IsConfirmed:    meta.IsConfirmed(),
		MilestoneIndex: meta.MilestoneIndex,
		ConeIndex:      meta.ConeIndex,
		SolidifiedAt:   meta.SolidificationTime,
	}
	if otrsi, ytrsi, known := meta.Bounds(); known {
		resp.OTRSI, resp.YTRSI = &otrsi, &ytrsi
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMessageChildren handles GET requests for the approvers of a message
func (h *Handler) GetMessageChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := messageIDParam(w, r)
	if !ok {
		return
	}

	children := h.Node.ChildrenOf(id)
	if children == nil {
		children = models.MessageIDs{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messageId": id,
		"children":  children,
	})
}

// GetAddressBalance handles GET requests for the confirmed balance of an address
func (h *Handler) GetAddressBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := models.AddressFromHex(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":     addr,
		"balance":     h.Node.GetOrZero(addr),
		"ledgerIndex": h.Node.ConfirmedIndex(),
	})
}

// GetIndexation handles GET requests for the messages stored under an indexation key
func (h *Handler) GetIndexation(w http.ResponseWriter, r *http.Request) {
	index := mux.Vars(r)["index"]

	ids, err := h.Node.MessagesByIndex([]byte(index))
	if err != nil {
		logger.Logger.Error("Failed to look up indexation", zap.String("index", index), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to look up index")
		return
	}
	if ids == nil {
		ids = models.MessageIDs{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":      index,
		"messageIds": ids,
	})
}

// GetMilestone handles GET requests for the message that issued a milestone
func (h *Handler) GetMilestone(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	if err != nil || index == 0 {
		writeError(w, http.StatusBadRequest, "Invalid milestone index")
		return
	}

	id, exists := h.Node.MilestoneMessageID(models.MilestoneIndex(index))
	if !exists {
		writeError(w, http.StatusNotFound, "Milestone not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":     index,
		"messageId": id,
		"confirmed": models.MilestoneIndex(index) <= h.Node.ConfirmedIndex(),
	})
}

// GetInfo handles GET requests for the node status
func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Node.Info())
}

// GetMetrics serves the Prometheus metrics
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		writeError(w, http.StatusNotFound, "Metrics disabled")
		return
	}
	h.Metrics.ServeHTTP(w, r)
}
