package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

var apiMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// APIExecutor performs raw HTTP calls written as "METHOD URL [JSON body]".
// A 2xx response exits 0; any other response exits with its status code.
type APIExecutor struct {
	client    *http.Client
	maxOutput int
}

func NewAPIExecutor(client *http.Client, maxOutputBytes int) *APIExecutor {
	if client == nil {
		client = &http.Client{}
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultOptions().MaxOutputBytes
	}
	return &APIExecutor{client: client, maxOutput: maxOutputBytes}
}

type apiCall struct {
	method string
	url    string
	body   string
}

func parseAPICall(command string) (*apiCall, error) {
	fields := strings.Fields(command)
	if len(fields) < 2 {
		return nil, &models.ValidationError{Field: "action_command", Reason: "api_call must be METHOD URL [JSON body]"}
	}

	method := strings.ToUpper(fields[0])
	if !apiMethods[method] {
		return nil, &models.ValidationError{Field: "action_command", Reason: fmt.Sprintf("unsupported HTTP method %q", fields[0])}
	}

	u, err := url.Parse(fields[1])
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &models.ValidationError{Field: "action_command", Reason: fmt.Sprintf("invalid URL %q", fields[1])}
	}

	call := &apiCall{method: method, url: u.String()}

	// The body is everything after the URL, whitespace included.
	rest := strings.TrimSpace(command)
	rest = strings.TrimSpace(rest[len(fields[0]):])
	rest = strings.TrimSpace(rest[len(fields[1]):])
	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return nil, &models.ValidationError{Field: "action_command", Reason: "api_call body is not valid JSON"}
		}
		call.body = rest
	}
	return call, nil
}

func (e *APIExecutor) Type() models.ActionType { return models.ActionTypeAPICall }

func (e *APIExecutor) SupportsDryRun() bool { return false }

func (e *APIExecutor) Validate(command string) error {
	_, err := parseAPICall(command)
	return err
}

func (e *APIExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if req.DryRun {
		return nil, &models.NotSupportedError{ActionType: e.Type(), Operation: "dry run"}
	}
	call, err := parseAPICall(req.Command)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var body io.Reader
	if call.body != "" {
		body = strings.NewReader(call.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, call.method, call.url, body)
	if err != nil {
		return nil, &models.ValidationError{Field: "action_command", Reason: err.Error()}
	}
	if call.body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		result := &Result{ExitStatus: -1, Duration: time.Since(start), Stderr: err.Error()}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			glog.Warningf("API call %s %s timed out after %s", call.method, call.url, req.Timeout)
			return result, &models.TimeoutError{Timeout: req.Timeout}
		}
		return result, &models.ExecutionError{ExitStatus: -1, Stderr: err.Error(), Err: fmt.Errorf("%s %s: %w", call.method, call.url, err)}
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	lw := &limitedWriter{w: &out, limit: e.maxOutput}
	_, copyErr := io.Copy(lw, resp.Body)

	result := &Result{
		Stdout:    out.String(),
		Duration:  time.Since(start),
		Truncated: lw.truncated,
	}
	if copyErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitStatus = -1
		return result, &models.TimeoutError{Timeout: req.Timeout}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.ExitStatus = resp.StatusCode
		result.Stderr = fmt.Sprintf("%s %s returned %s: %s", call.method, call.url, resp.Status, strings.TrimSpace(out.String()))
	}
	return result, nil
}

// Check is a no-op: the HTTP client is in-process.
func (e *APIExecutor) Check(ctx context.Context) error { return nil }
