package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"threat-response/internal/apperrors"
	"threat-response/internal/hashing"

	"github.com/fxamacker/cbor"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	transferAPI            = "transfers"
	contentTypeOctetStream = "application/octet-stream"
)

type Client struct {
	logger *zap.Logger
	url    string
}

func NewClient(logger *zap.Logger, ledgerAddr string) *Client {
	return &Client{logger: logger, url: ledgerAddr}
}

type transferPayload struct {
	From   string `cbor:"from"`
	To     string `cbor:"to"`
	Amount string `cbor:"amount"`
	Nonce  string `cbor:"nonce"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	TxRef   string `json:"txRef"`
	Error   string `json:"error"`
}

// Transfer submits a transfer to the ledger and waits for the
// confirmation. The context bounds the whole call; hitting the
// deadline counts as a ledger failure.
func (c *Client) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (TransferResult, error) {

	payload := transferPayload{
		From:   from,
		To:     to,
		Amount: amount.String(),
		Nonce:  uuid.NewString(),
	}

	payloadDump, err := cbor.Marshal(payload, cbor.EncOptions{})
	if err != nil {
		return TransferResult{}, apperrors.Wrap(apperrors.KindExternalService, "failed to dump the transfer payload", err)
	}

	c.logger.Info("submitting transfer",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("nonce", payload.Nonce))

	response, err := c.sendRequest(ctx, transferAPI, payloadDump, hashing.Calculate(payloadDump))
	if err != nil {
		return TransferResult{}, err
	}

	var confirmed transferResponse
	if err := json.Unmarshal(response, &confirmed); err != nil {
		return TransferResult{}, apperrors.Wrap(apperrors.KindExternalService, "failed to unmarshal the transfer response", err)
	}

	if !confirmed.Success {
		return TransferResult{}, apperrors.New(apperrors.KindExternalService, "transfer rejected by the ledger: "+confirmed.Error)
	}

	c.logger.Info("transfer confirmed", zap.String("txRef", confirmed.TxRef))
	return TransferResult{TxRef: confirmed.TxRef}, nil
}

func (c *Client) sendRequest(ctx context.Context, apiSuffix string, data []byte, payloadDigest string) ([]byte, error) {

	url := fmt.Sprintf("http://%s/%s", c.url, apiSuffix)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternalService, "failed to build the ledger request", err)
	}
	request.Header.Set("Content-Type", contentTypeOctetStream)
	request.Header.Set("X-Payload-Sha512", payloadDigest)

	resp, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternalService, "ledger call failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExternalService, "reading the ledger response failed", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.New(apperrors.KindExternalService,
			"ledger status code: "+resp.Status+"; body: "+string(responseBody))
	}

	return responseBody, nil
}
