// Package aiflow invokes the hosted generative-AI flows behind a
// schema-validated JSON contract. Failures of any kind (transport,
// status, schema) surface as a single retry-able FlowError so callers
// present one consistent affordance.
package aiflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodyBytes     = 512
)

var errMissingBaseURL = errors.New("aiflow: base url is required")

// FlowError is the single failure kind for AI-flow invocations.
type FlowError struct {
	Flow    string
	Message string
	err     error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("aiflow: flow %q failed: %s", e.Flow, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.err
}

func newFlowError(flow, message string, cause error) error {
	return &FlowError{Flow: flow, Message: message, err: cause}
}

// Client invokes a named flow with a structured input and decodes the
// structured output, validating both sides.
type Client interface {
	Invoke(ctx context.Context, flow string, input, output any) error
}

// HTTPClientConfig configures the HTTP flow client.
type HTTPClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPClient calls flows exposed as POST <base>/flows/<name>.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHTTPClient constructs the HTTP flow client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		baseURL:  baseURL,
		http:     httpClient,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

// Invoke runs the named flow. Input is validated before sending and
// output after decoding; any failure is a FlowError.
func (c *HTTPClient) Invoke(ctx context.Context, flow string, input, output any) error {
	if err := c.validateStruct(input); err != nil {
		return newFlowError(flow, "input failed schema validation", err)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return newFlowError(flow, "input could not be encoded", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/flows/"+flow, bytes.NewReader(payload))
	if err != nil {
		return newFlowError(flow, "request could not be built", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return newFlowError(flow, "flow endpoint unreachable", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		c.logger.Warn("flow invocation rejected",
			zap.String("flow", flow),
			zap.Int("status", response.StatusCode))
		return newFlowError(flow, fmt.Sprintf("flow returned status %d: %s", response.StatusCode, strings.TrimSpace(string(excerpt))), nil)
	}

	if err := json.NewDecoder(response.Body).Decode(output); err != nil {
		return newFlowError(flow, "output could not be decoded", err)
	}
	if err := c.validateStruct(output); err != nil {
		return newFlowError(flow, "output failed schema validation", err)
	}
	return nil
}

// validateStruct applies tag validation to struct values and leaves
// other shapes (maps, nil) alone.
func (c *HTTPClient) validateStruct(value any) error {
	if value == nil {
		return nil
	}
	kind := reflect.Indirect(reflect.ValueOf(value)).Kind()
	if kind != reflect.Struct {
		return nil
	}
	return c.validate.Struct(value)
}
