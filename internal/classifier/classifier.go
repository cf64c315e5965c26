package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"

	"threat-response/internal/apperrors"
	"threat-response/internal/model"

	"go.uber.org/zap"
)

// Classifier produces a verdict for a traffic sample. A transient
// failure is reported as an error; the caller treats it as no decision.
type Classifier interface {
	Classify(ctx context.Context, sample map[string]interface{}) (model.Verdict, error)
}

type Client struct {
	logger *zap.Logger
	url    string
}

func NewClient(logger *zap.Logger, classifierAddr string) *Client {
	return &Client{logger: logger, url: "http://" + classifierAddr}
}

func (c *Client) Classify(ctx context.Context, sample map[string]interface{}) (model.Verdict, error) {

	body, err := json.Marshal(sample)
	if err != nil {
		return model.Verdict{}, apperrors.Wrap(apperrors.KindValidation, "failed to marshal the sample", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/classify", bytes.NewBuffer(body))
	if err != nil {
		return model.Verdict{}, apperrors.Wrap(apperrors.KindExternalService, "failed to build the classifier request", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(request)
	if err != nil {
		return model.Verdict{}, apperrors.Wrap(apperrors.KindExternalService, "classifier call failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return model.Verdict{}, apperrors.Wrap(apperrors.KindExternalService, "reading the classifier response failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.Verdict{}, apperrors.New(apperrors.KindExternalService,
			"classifier status code: "+resp.Status+"; body: "+string(responseBody))
	}

	var unmarshalled struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(responseBody, &unmarshalled); err != nil {
		return model.Verdict{}, apperrors.Wrap(apperrors.KindExternalService, "failed to unmarshal the classifier response", err)
	}

	c.logger.Debug("classifier verdict",
		zap.String("class", unmarshalled.Class),
		zap.Float64("confidence", unmarshalled.Confidence))

	return model.Verdict{PredictedClass: unmarshalled.Class, Confidence: unmarshalled.Confidence}, nil
}
