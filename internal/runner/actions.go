package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"testkit/internal/client"
)

// registerBuiltins installs the actions every catalog can rely on.
func (r *Runner) registerBuiltins() {
	r.actions["fixture"] = fixtureAction
	r.actions["set_variables"] = setVariablesAction
	r.actions["wait"] = waitAction
	r.actions["http"] = NewHTTPAction(client.New(client.Config{}))
}

// fixtureAction loads a fixture and returns its data so capture paths can
// pick values out of it. Args: {identifier: "category/name" | "dynamic:name"}.
func fixtureAction(ctx context.Context, sc *StepContext) (interface{}, error) {
	if sc.Fixtures == nil {
		return nil, fmt.Errorf("no fixture directory configured")
	}
	identifier, _ := sc.Args["identifier"].(string)
	if identifier == "" {
		return nil, fmt.Errorf("fixture action needs an identifier argument")
	}
	set, err := sc.Fixtures.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return set.Data, nil
}

// setVariablesAction merges its arguments into the run's shared variables.
func setVariablesAction(ctx context.Context, sc *StepContext) (interface{}, error) {
	if err := sc.RunContext.UpdateSharedVariables(ctx, sc.RunID, sc.Args); err != nil {
		return nil, err
	}
	return sc.Args, nil
}

// waitAction sleeps for the given duration. Args: {duration: "500ms"}.
func waitAction(ctx context.Context, sc *StepContext) (interface{}, error) {
	raw, _ := sc.Args["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("wait action: bad duration %q: %w", raw, err)
	}
	select {
	case <-time.After(d):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewHTTPAction builds the http action on top of a configured client.
// Args: {method, url, headers?, body?, expect_status?}. The decoded JSON
// response body is returned for capture; non-JSON bodies come back as a
// raw string under "body".
func NewHTTPAction(c *client.Client) Action {
	return func(ctx context.Context, sc *StepContext) (interface{}, error) {
		method, _ := sc.Args["method"].(string)
		if method == "" {
			method = http.MethodGet
		}
		url, _ := sc.Args["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("http action needs a url argument")
		}

		var body []byte
		if raw, ok := sc.Args["body"]; ok && raw != nil {
			encoded, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			body = encoded
		}
		header := http.Header{}
		if hs, ok := sc.Args["headers"].(map[string]interface{}); ok {
			for k, v := range hs {
				header.Set(k, fmt.Sprintf("%v", v))
			}
		}
		if body != nil && header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}

		resp, err := c.DoWithBody(ctx, sc.Test, method, url, body, header)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if want, ok := sc.Args["expect_status"].(float64); ok && int(want) != resp.StatusCode {
			return nil, fmt.Errorf("expected status %d, got %d", int(want), resp.StatusCode)
		} else if wantInt, ok := sc.Args["expect_status"].(int); ok && wantInt != resp.StatusCode {
			return nil, fmt.Errorf("expected status %d, got %d", wantInt, resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = map[string]interface{}{"body": string(raw)}
		}
		if m, ok := decoded.(map[string]interface{}); ok {
			m["status_code"] = float64(resp.StatusCode)
			return m, nil
		}
		return map[string]interface{}{"data": decoded, "status_code": float64(resp.StatusCode)}, nil
	}
}
