package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type retrievedContribution struct {
	AuthorizerID       string  `json:"authorizerID"`
	TotalSignatures    int     `json:"totalSignatures"`
	AvgResponseTimeSec float64 `json:"avgResponseTimeSec"`
	QualityScore       int     `json:"qualityScore"`
	LastSignatureTime  string  `json:"lastSignatureTime,omitempty"`
}

func (ser server) getContribution(w http.ResponseWriter, r *http.Request) {
	authorizerID := mux.Vars(r)["authorizerID"]

	record, err := ser.app.GetContribution(r.Context(), authorizerID)
	if err != nil {
		ser.writeError(w, err)
		return
	}

	retrieved := retrievedContribution{
		AuthorizerID:       record.AuthorizerID,
		TotalSignatures:    record.TotalSignatures,
		AvgResponseTimeSec: record.AvgResponseTime().Seconds(),
		QualityScore:       record.QualityScore,
	}
	if !record.LastSignatureTime.IsZero() {
		retrieved.LastSignatureTime = record.LastSignatureTime.Format(time.RFC3339)
	}

	ser.writeJSON(w, http.StatusOK, retrieved)
}

type distributionResponse struct {
	Distributed string            `json:"distributed"`
	Payouts     map[string]string `json:"payouts"`
	Skipped     []string          `json:"skipped,omitempty"`
	Failed      []string          `json:"failed,omitempty"`
}

func (ser server) postDistribute(w http.ResponseWriter, r *http.Request) {
	result, err := ser.app.DistributeAvailable(r.Context())
	if err != nil {
		ser.writeError(w, err)
		return
	}

	payouts := make(map[string]string, len(result.Payouts))
	for authorizerID, amount := range result.Payouts {
		payouts[authorizerID] = amount.String()
	}

	ser.writeJSON(w, http.StatusOK, distributionResponse{
		Distributed: result.Distributed.String(),
		Payouts:     payouts,
		Skipped:     result.Skipped,
		Failed:      result.Failed,
	})
}

func (ser server) postDeposit(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		ser.badRequest(w, "failed to decode the deposit body: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(params.Amount)
	if err != nil {
		ser.badRequest(w, "invalid deposit amount: "+err.Error())
		return
	}

	if err := ser.app.Deposit(r.Context(), amount); err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusOK, map[string]string{"credited": amount.String()})
}

func (ser server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ser.app.GetStatus(r.Context())
	if err != nil {
		ser.writeError(w, err)
		return
	}

	ser.writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections":       status.Detections,
		"proposals":        status.Proposals,
		"pendingProposals": status.PendingProposals,
		"executions":       status.Executions,
		"poolBalance":      status.Pool.Balance.String(),
		"baseReward":       status.Pool.BaseReward.String(),
		"thresholds": map[string]float64{
			"high":       status.Thresholds.High,
			"mediumHigh": status.Thresholds.MediumHigh,
			"mediumLow":  status.Thresholds.MediumLow,
		},
	})
}
