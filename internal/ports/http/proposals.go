package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"threat-response/internal/apperrors"
	"threat-response/internal/model"
	"threat-response/internal/ports/http/middleware/auth"

	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type retrievedProposal struct {
	ProposalID         uint64   `json:"proposalID"`
	ThreatType         string   `json:"threatType"`
	Confidence         float64  `json:"confidence"`
	Type               string   `json:"type"`
	Status             string   `json:"status"`
	Target             string   `json:"target"`
	ActionType         string   `json:"actionType"`
	Creator            string   `json:"creator"`
	RequiredSignatures int      `json:"requiredSignatures"`
	SignaturesCount    int      `json:"signaturesCount"`
	Signers            []string `json:"signers"`
	RewardRecipient    string   `json:"rewardRecipient,omitempty"`
	RewardTxRef        string   `json:"rewardTxRef,omitempty"`
	CreatedAt          string   `json:"createdAt"`
	ExecutedAt         string   `json:"executedAt,omitempty"`
}

func newRetrievedProposal(proposal model.Proposal) retrievedProposal {
	retrieved := retrievedProposal{
		ProposalID:         proposal.ID,
		ThreatType:         proposal.ThreatType,
		Confidence:         proposal.Confidence,
		Type:               string(proposal.Type),
		Status:             string(proposal.Status),
		Target:             proposal.Target,
		ActionType:         proposal.ActionType,
		Creator:            proposal.Creator,
		RequiredSignatures: proposal.RequiredSignatures,
		SignaturesCount:    proposal.SignaturesCount(),
		Signers:            proposal.Signers,
		RewardRecipient:    proposal.RewardRecipient,
		RewardTxRef:        proposal.RewardTxRef,
		CreatedAt:          proposal.CreatedAt.Format(time.RFC3339),
	}
	if !proposal.ExecutedAt.IsZero() {
		retrieved.ExecutedAt = proposal.ExecutedAt.Format(time.RFC3339)
	}
	return retrieved
}

func (ser server) postProposal(w http.ResponseWriter, r *http.Request) {
	actor := auth.Actor(r.Context())
	if actor == "" {
		ser.writeError(w, apperrors.New(apperrors.KindAuthorization, "missing caller identity"))
		return
	}

	proposal, err := readProposalParams(r)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}

	ser.logger.Info("creating a manual proposal",
		zap.String("actor", actor), zap.String("threatType", proposal.ThreatType))

	created, err := ser.app.CreateProposal(r.Context(), proposal, actor)
	if err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusCreated, newRetrievedProposal(created))
}

func readProposalParams(r *http.Request) (model.Proposal, error) {
	var params struct {
		ThreatType         string  `json:"threatType"`
		Confidence         float64 `json:"confidence"`
		Target             string  `json:"target"`
		ActionType         string  `json:"actionType"`
		RequiredSignatures int     `json:"requiredSignatures"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		return model.Proposal{}, errors.New("failed to decode the proposal body: " + err.Error())
	}

	var err error
	if params.ThreatType == "" {
		err = multierr.Append(err, errors.New("threatType is missing"))
	}
	if params.Target == "" {
		err = multierr.Append(err, errors.New("target is missing"))
	}
	if params.Confidence < 0 || params.Confidence > 1 {
		err = multierr.Append(err, errors.New("confidence must be within [0,1]"))
	}
	if params.RequiredSignatures < 0 {
		err = multierr.Append(err, errors.New("requiredSignatures cannot be negative"))
	}
	if err != nil {
		return model.Proposal{}, err
	}

	return model.Proposal{
		ThreatType:         params.ThreatType,
		Confidence:         params.Confidence,
		Target:             params.Target,
		ActionType:         params.ActionType,
		RequiredSignatures: params.RequiredSignatures,
	}, nil
}

func (ser server) getProposals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	var proposals []model.Proposal
	var err error
	switch model.ProposalStatus(status) {
	case "":
		proposals, err = ser.app.ListProposals(r.Context(), limit)
	case model.ProposalStatusPending:
		proposals, err = ser.app.ListPending(r.Context())
	default:
		ser.badRequest(w, "unsupported status filter: "+status)
		return
	}
	if err != nil {
		ser.writeError(w, err)
		return
	}

	retrieved := make([]retrievedProposal, len(proposals))
	for i, proposal := range proposals {
		retrieved[i] = newRetrievedProposal(proposal)
	}

	ser.writeJSON(w, http.StatusOK, retrieved)
}

type signResponse struct {
	Status          string `json:"status"`
	SignaturesCount int    `json:"signaturesCount"`
	Remaining       int    `json:"remaining"`
	RewardRecipient string `json:"rewardRecipient,omitempty"`
	RewardTxRef     string `json:"rewardTxRef,omitempty"`
}

func (ser server) postSign(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := ser.actorAndProposal(w, r)
	if !ok {
		return
	}

	result, err := ser.app.Sign(r.Context(), proposalID, actor)
	if err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusOK, signResponse{
		Status:          string(result.Status),
		SignaturesCount: result.SignaturesCount,
		Remaining:       result.Remaining,
		RewardRecipient: result.RewardRecipient,
		RewardTxRef:     result.RewardTxRef,
	})
}

func (ser server) postReject(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := ser.actorAndProposal(w, r)
	if !ok {
		return
	}

	if err := ser.app.Reject(r.Context(), proposalID, actor); err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusOK, map[string]string{"status": model.ProposalStatusRejected.String()})
}

func (ser server) postWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, proposalID, ok := ser.actorAndProposal(w, r)
	if !ok {
		return
	}

	if err := ser.app.Withdraw(r.Context(), proposalID, actor); err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusOK, map[string]string{"status": model.ProposalStatusWithdrawn.String()})
}

func (ser server) actorAndProposal(w http.ResponseWriter, r *http.Request) (string, uint64, bool) {
	actor := auth.Actor(r.Context())
	if actor == "" {
		ser.writeError(w, apperrors.New(apperrors.KindAuthorization, "missing caller identity"))
		return "", 0, false
	}

	proposalID, err := strconv.ParseUint(mux.Vars(r)["proposalID"], 10, 64)
	if err != nil {
		ser.badRequest(w, "invalid proposal id: "+err.Error())
		return "", 0, false
	}

	return actor, proposalID, true
}
