package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"RxGate/internal/conf"
	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

const classifierUserAgent = "RxGate/1.0"

// classifyRequest is the wire request for the NLU /v1/classify endpoint.
type classifyRequest struct {
	Message string `json:"message"`
}

// classifyResponse is the wire response from /v1/classify.
type classifyResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// extractRequest is the wire request for the NLU /v1/extract endpoint.
type extractRequest struct {
	Message string `json:"message"`
	Intent  string `json:"intent"`
}

// extractResponse is the wire response from /v1/extract.
type extractResponse struct {
	PatientID string `json:"patient_id,omitempty"`
	DrugName  string `json:"drug_name,omitempty"`
	Dose      string `json:"dose,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// nluErrorResponse is the NLU service's error envelope.
type nluErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ClassifierClient implements biz.IntentClassifier and biz.EntityExtractor
// against the external NLU service over HTTP.
type ClassifierClient struct {
	endpoint string
	client   *http.Client
	logger   *log.Helper
}

// NewClassifierClient creates a new NLU client.
func NewClassifierClient(c *conf.Classifier, logger log.Logger) *ClassifierClient {
	return &ClassifierClient{
		endpoint: c.Endpoint,
		client: &http.Client{
			Timeout: c.Timeout.AsDuration(),
		},
		logger: log.NewHelper(logger),
	}
}

// Classify labels a free-form message with an intent and the classifier's
// self-reported confidence. Channel-specific confidence overrides are the
// workflow's concern, not the client's.
func (c *ClassifierClient) Classify(ctx context.Context, message string) (*model.IntentResult, error) {
	var resp classifyResponse
	if err := c.post(ctx, "/v1/classify", classifyRequest{Message: message}, &resp); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	return &model.IntentResult{
		Intent:     model.Intent(resp.Intent),
		Confidence: resp.Confidence,
		Reasoning:  resp.Reasoning,
	}, nil
}

// Extract fills refill slots from a free-form message.
func (c *ClassifierClient) Extract(ctx context.Context, message string, intent model.Intent) (model.Entities, error) {
	var resp extractResponse
	if err := c.post(ctx, "/v1/extract", extractRequest{Message: message, Intent: string(intent)}, &resp); err != nil {
		return model.Entities{}, fmt.Errorf("extract: %w", err)
	}

	return model.Entities{
		PatientID: resp.PatientID,
		DrugName:  resp.DrugName,
		Dose:      resp.Dose,
		Quantity:  resp.Quantity,
		Frequency: resp.Frequency,
	}, nil
}

// post sends a JSON request and decodes the JSON response.
func (c *ClassifierClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", classifierUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("nlu request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var nluErr nluErrorResponse
		if err := json.Unmarshal(raw, &nluErr); err == nil && nluErr.Error.Message != "" {
			return fmt.Errorf("nlu %s returned %d: %s", path, resp.StatusCode, nluErr.Error.Message)
		}
		return fmt.Errorf("nlu %s returned %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
