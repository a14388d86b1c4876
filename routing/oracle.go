// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOracleTimeout is the HTTP timeout for oracle calls
	DefaultOracleTimeout = 30 * time.Second

	// DefaultMaxTokens bounds the oracle completion length; the
	// decision object is small
	DefaultMaxTokens = 200

	// DefaultTemperature keeps routing decisions mostly deterministic
	DefaultTemperature = 0.3
)

// OracleError marks any failure of the external routing oracle: missing
// credentials, transport errors, non-2xx responses, or a completion
// that does not parse as a decision. It never reaches a client; the
// caller falls back to deterministic routing instead.
type OracleError struct {
	Reason string
	Err    error
}

func (e *OracleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("oracle %s", e.Reason)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// IsOracleError reports whether err originated in the oracle boundary.
func IsOracleError(err error) bool {
	var oe *OracleError
	return errors.As(err, &oe)
}

// Decision is the strict JSON object the oracle must return. All three
// fields are required; serviceName is nullable.
type Decision struct {
	ServiceName *string `json:"serviceName"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// CompletionClient is the oracle boundary: one synchronous call taking
// a system and user prompt pair and returning the raw completion text.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OracleConfig configures the OpenAI-compatible completion client.
type OracleConfig struct {
	APIKey  string        // Required for calls to succeed
	APIURL  string        // Chat completions endpoint
	Model   string        // Model name
	Timeout time.Duration // Optional: HTTP timeout (default: 30s)
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	apiKey string
	apiURL string
	model  string
	client HTTPClient
}

var _ CompletionClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a completion client. A missing API key is not
// an error here; Complete reports it as an OracleError so the router
// can fall back.
func NewOpenAIClient(cfg OracleConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &OpenAIClient{
		apiKey: cfg.APIKey,
		apiURL: cfg.APIURL,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}
}

// Complete performs one chat completion call and returns the completion
// text of the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", &OracleError{Reason: "credentials missing"}
	}

	apiReq := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return "", &OracleError{Reason: "request encoding failed", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", &OracleError{Reason: "request creation failed", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &OracleError{Reason: "call failed", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &OracleError{
			Reason: fmt.Sprintf("API error (status %d)", resp.StatusCode),
			Err:    errors.New(strings.TrimSpace(string(body))),
		}
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", &OracleError{Reason: "response decoding failed", Err: err}
	}

	if len(apiResp.Choices) == 0 {
		return "", &OracleError{Reason: "empty response"}
	}

	content := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if content == "" {
		return "", &OracleError{Reason: "empty completion"}
	}

	return content, nil
}

// ParseDecision parses a completion into a Decision enforcing the
// strict three-field schema. Markdown code fences around the JSON are
// tolerated; unknown fields, missing fields, or wrong types are not.
func ParseDecision(content string) (*Decision, error) {
	content = stripCodeFences(content)

	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()

	var raw struct {
		ServiceName *string  `json:"serviceName"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   *string  `json:"reasoning"`
	}
	if err := dec.Decode(&raw); err != nil {
		return nil, &OracleError{Reason: "malformed decision", Err: err}
	}
	if raw.Confidence == nil || raw.Reasoning == nil {
		return nil, &OracleError{Reason: "malformed decision", Err: errors.New("confidence and reasoning are required")}
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return nil, &OracleError{Reason: "malformed decision", Err: fmt.Errorf("confidence %v out of range", *raw.Confidence)}
	}

	return &Decision{
		ServiceName: raw.ServiceName,
		Confidence:  *raw.Confidence,
		Reasoning:   *raw.Reasoning,
	}, nil
}

// stripCodeFences removes a ```json ... ``` wrapper if present.
func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// Internal API types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
