package runctx

import (
	"fmt"
	"time"
)

// Record type names in the persisted store.
const (
	RecordTypeRunContext  = "test_run_contexts"
	RecordTypeDependency  = "test_dependencies"
	RecordTypeResult      = "test_results"
	RecordTypeEnvVariable = "environment_variables"
)

// Growth ceilings for one run context. Exceeding a ceiling rejects the
// update entirely; partial merges are never persisted.
const (
	DefaultMaxSharedVariables = 100
	DefaultMaxCapturedData    = 200
	DefaultMaxContextSize     = 256 * 1024 // serialized bytes
)

// Lifecycle defaults for the TTL sweep.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = 6 * time.Hour
)

// RunContext is the persisted, shared scratchpad for one test run: auth
// tokens and variables shared across tests, response data captured for
// later dependent tests, and the stored execution order.
type RunContext struct {
	RunID            string                            `json:"run_id"`
	ProjectID        string                            `json:"project_id,omitempty"`
	EnvironmentID    string                            `json:"environment_id,omitempty"`
	SharedAuthTokens map[string]string                 `json:"shared_auth_tokens"`
	SharedVariables  map[string]interface{}            `json:"shared_variables"`
	CapturedData     map[string]map[string]interface{} `json:"captured_data"`
	TestOrder        []string                          `json:"test_order"`
	Finalized        bool                              `json:"finalized,omitempty"`
	CreatedAt        time.Time                         `json:"created_at"`
	UpdatedAt        time.Time                         `json:"updated_at"`
}

// clone returns a deep-enough copy for merge-then-validate updates: the
// maps are copied, values are shared.
func (rc *RunContext) clone() *RunContext {
	out := *rc
	out.SharedAuthTokens = make(map[string]string, len(rc.SharedAuthTokens))
	for k, v := range rc.SharedAuthTokens {
		out.SharedAuthTokens[k] = v
	}
	out.SharedVariables = make(map[string]interface{}, len(rc.SharedVariables))
	for k, v := range rc.SharedVariables {
		out.SharedVariables[k] = v
	}
	out.CapturedData = make(map[string]map[string]interface{}, len(rc.CapturedData))
	for k, v := range rc.CapturedData {
		out.CapturedData[k] = v
	}
	out.TestOrder = append([]string(nil), rc.TestOrder...)
	return &out
}

// Error is the typed failure for run-context operations. It carries the
// operation name for observability and wraps the underlying cause.
type Error struct {
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("context management: %s: %s: %v", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("context management: %s: %s", e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// opError builds an Error for the given operation.
func opError(operation, message string, cause error) *Error {
	return &Error{Operation: operation, Message: message, Cause: cause}
}

// Resolution is the outcome of resolving one test's dependencies.
type Resolution struct {
	TestCaseID string `json:"testCaseId"`
	// DependsOn lists the immediate requirements.
	DependsOn []string `json:"dependsOn"`
	// ExecutionChain is the transitive requirement chain in stored run
	// order.
	ExecutionChain []string `json:"executionChain"`
	// RequiredVariables maps "test_{id}" to the captured data of each
	// required test (nil when that test has not captured anything yet).
	RequiredVariables map[string]interface{} `json:"requiredVariables"`
	// IsReady is true when the test has no dependencies or its chain is
	// resolved and non-empty.
	IsReady bool `json:"isReady"`
}

// Aggregated is a read-only view combining shared run state with the
// persisted results of selected tests. It is built for batch reporting and
// must not be written back.
type Aggregated struct {
	RunID            string                            `json:"runId"`
	SharedAuthTokens map[string]string                 `json:"sharedAuthTokens"`
	SharedVariables  map[string]interface{}            `json:"sharedVariables"`
	Results          map[string]map[string]interface{} `json:"results"`
}

// MemoryStats reports in-process cache diagnostics.
type MemoryStats struct {
	CachedContexts   int     `json:"cachedContexts"`
	ApproxBytes      int     `json:"approxBytes"`
	AvgAccessCount   float64 `json:"avgAccessCount"`
	TotalAccessCount int     `json:"totalAccessCount"`
}

// EnvVariable is an environment variable record consumed from storage.
// Secret values are redacted in bulk reads and only available through
// SecretValue.
type EnvVariable struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret"`
}

// Redacted replaces secret values in serialized output.
const Redacted = "[redacted]"
