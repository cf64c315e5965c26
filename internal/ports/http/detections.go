package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"threat-response/internal/apperrors"
	"threat-response/internal/model"
	"threat-response/internal/ports/http/middleware/auth"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type retrievedDetection struct {
	DetectionID uint64  `json:"detectionID"`
	ThreatType  string  `json:"threatType"`
	Confidence  float64 `json:"confidence"`
	Tier        string  `json:"tier"`
	SourceIP    string  `json:"sourceIP,omitempty"`
	TargetIP    string  `json:"targetIP,omitempty"`
	ActionTaken string  `json:"actionTaken"`
	ProposalID  uint64  `json:"proposalID,omitempty"`
	DetectedAt  string  `json:"detectedAt"`
}

func newRetrievedDetection(detection model.Detection) retrievedDetection {
	return retrievedDetection{
		DetectionID: detection.ID,
		ThreatType:  detection.ThreatType,
		Confidence:  detection.Confidence,
		Tier:        detection.Tier.String(),
		SourceIP:    detection.SourceIP,
		TargetIP:    detection.TargetIP,
		ActionTaken: detection.ActionTaken,
		ProposalID:  detection.ProposalID,
		DetectedAt:  detection.DetectedAt.Format(time.RFC3339),
	}
}

func (ser server) postDetection(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Sample   map[string]interface{} `json:"sample"`
		SourceIP string                 `json:"sourceIP"`
		TargetIP string                 `json:"targetIP"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		ser.badRequest(w, "failed to decode the detection body: "+err.Error())
		return
	}
	if len(params.Sample) == 0 {
		ser.badRequest(w, "sample is missing")
		return
	}

	result, err := ser.app.HandleDetection(r.Context(), params.Sample, params.SourceIP, params.TargetIP)
	if err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusOK, newRetrievedDetection(result.Detection))
}

// postProposalFromDetection lets an operator promote a recorded
// detection into a proposal waiting for signatures.
func (ser server) postProposalFromDetection(w http.ResponseWriter, r *http.Request) {
	actor := auth.Actor(r.Context())
	if actor == "" {
		ser.writeError(w, apperrors.New(apperrors.KindAuthorization, "missing caller identity"))
		return
	}

	detectionID, err := strconv.ParseUint(mux.Vars(r)["detectionID"], 10, 64)
	if err != nil {
		ser.badRequest(w, "invalid detection id: "+err.Error())
		return
	}

	var params struct {
		ActionType string `json:"actionType"`
	}
	// the body is optional, the action type defaults to block
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err != io.EOF {
		ser.badRequest(w, "failed to decode the body: "+err.Error())
		return
	}
	if params.ActionType == "" {
		params.ActionType = model.DefaultActionType
	}

	ser.logger.Info("promoting a detection to a proposal",
		zap.Uint64("detectionID", detectionID), zap.String("actor", actor))

	proposal, err := ser.app.CreateProposalFromDetection(r.Context(), detectionID, params.ActionType, actor)
	if err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusCreated, newRetrievedProposal(proposal))
}
