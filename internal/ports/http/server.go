package http

import (
	"encoding/json"
	"net/http"

	"threat-response/internal/app"
	"threat-response/internal/apperrors"
	"threat-response/internal/ports/http/middleware/auth"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type server struct {
	app        *app.App
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

func NewServer(logger *zap.Logger, a *app.App, address string) server {
	return server{
		app:    a,
		addr:   address,
		logger: logger,
	}
}

func (ser server) registerHandlers(router *mux.Router) {

	router.HandleFunc("/health", healthcheck)

	router.HandleFunc("/api/detections", ser.postDetection).Methods(http.MethodPost)
	router.HandleFunc("/api/detections/{detectionID}/proposal", ser.postProposalFromDetection).Methods(http.MethodPost)

	router.HandleFunc("/api/proposals", ser.postProposal).Methods(http.MethodPost)
	router.HandleFunc("/api/proposals", ser.getProposals).Methods(http.MethodGet)
	router.HandleFunc("/api/proposals/{proposalID}/sign", ser.postSign).Methods(http.MethodPost)
	router.HandleFunc("/api/proposals/{proposalID}/reject", ser.postReject).Methods(http.MethodPost)
	router.HandleFunc("/api/proposals/{proposalID}/withdraw", ser.postWithdraw).Methods(http.MethodPost)

	router.HandleFunc("/api/contributions/{authorizerID}", ser.getContribution).Methods(http.MethodGet)
	router.HandleFunc("/api/rewards/distribute", ser.postDistribute).Methods(http.MethodPost)
	router.HandleFunc("/api/rewards/deposit", ser.postDeposit).Methods(http.MethodPost)

	router.HandleFunc("/api/status", ser.getStatus).Methods(http.MethodGet)
}

func healthcheck(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("all good here"))
}

func (ser server) Run() error {
	router := mux.NewRouter()
	ser.registerHandlers(router)

	identity := auth.NewIdentityReader(ser.logger)

	c := cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		Debug:            false,
	})
	handler := c.Handler(identity.Attach(router))
	ser.httpServer = &http.Server{
		Handler: handler,
		Addr:    ser.addr,
	}

	return ser.httpServer.ListenAndServe()
}

func (ser server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		ser.serverError(w, "marshalling the response failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		ser.logger.Error("failed to write the response: " + err.Error())
	}
}

// writeError maps the error kind to an HTTP status and returns the
// kind plus the human-readable message to the caller.
func (ser server) writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindAuthorization:
		status = http.StatusForbidden
	case apperrors.KindExternalService:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		ser.logger.Error(err.Error())
	} else {
		ser.logger.Warn(err.Error())
	}

	ser.writeJSON(w, status, errorResponse{Kind: kind.String(), Message: err.Error()})
}

func (ser server) badRequest(w http.ResponseWriter, message string) {
	ser.logger.Warn(message)
	ser.writeJSON(w, http.StatusBadRequest, errorResponse{Kind: apperrors.KindValidation.String(), Message: message})
}

func (ser server) serverError(w http.ResponseWriter, message string) {
	ser.logger.Error(message)
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(message)); err != nil {
		ser.logger.Error("failed to write a server error message: " + err.Error())
	}
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
