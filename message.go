// Package aimesh defines the wire-level protocol types shared by every
// subsystem of the message router: requests, acknowledgments, and the
// validation and error taxonomy that gates them before any side effect.
package aimesh

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// MaxPayloadBytes is the largest payload a Request may carry.
const MaxPayloadBytes = 1024 * 1024

// NoDeadline is the sentinel deadline meaning "never expires" because it was
// never set.
const NoDeadline int64 = 0

// MaxDeadline is the sentinel deadline meaning "never expires" because no
// bound was requested. Distinct from NoDeadline only in intent, not effect.
const MaxDeadline int64 = int64(^uint64(0) >> 1)

var agentIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Priority bands derived from the 0-100 Priority field.
type PriorityBand int

const (
	BandLow PriorityBand = iota
	BandNormal
	BandHigh
	BandCritical
)

func (b PriorityBand) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandNormal:
		return "normal"
	case BandHigh:
		return "high"
	case BandCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BandOf classifies a 0-100 priority value into its band.
func BandOf(priority int) PriorityBand {
	switch {
	case priority <= 25:
		return BandLow
	case priority <= 50:
		return BandNormal
	case priority <= 75:
		return BandHigh
	default:
		return BandCritical
	}
}

// Request is an immutable inbound message targeted at a logical agent.
// Callers should treat every field as read-only after NewRequest returns.
type Request struct {
	AgentID             string
	MessageID           string
	Payload             []byte
	EstimatedCostTokens float64
	BudgetTokens        float64
	DeadlineMs          int64
	Priority            int
	DedupContext        string
	TraceID             string
	CreatedAtNs         int64
	Metadata            map[string]string
}

// RequestOption customizes a Request at construction time.
type RequestOption func(*Request)

// WithDeadline sets an absolute wall-clock deadline in milliseconds.
func WithDeadline(deadlineMs int64) RequestOption {
	return func(r *Request) { r.DeadlineMs = deadlineMs }
}

// WithPriority overrides the default priority of 50.
func WithPriority(priority int) RequestOption {
	return func(r *Request) { r.Priority = priority }
}

// WithDedupContext sets the fingerprint-domain context string.
func WithDedupContext(ctx string) RequestOption {
	return func(r *Request) { r.DedupContext = ctx }
}

// WithMetadata attaches a free-form metadata key.
func WithMetadata(key, value string) RequestOption {
	return func(r *Request) {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata[key] = value
	}
}

// WithTraceID overrides the generated trace ID, useful for propagating a
// caller-supplied trace across process boundaries.
func WithTraceID(traceID string) RequestOption {
	return func(r *Request) { r.TraceID = traceID }
}

// NewRequest builds a Request with time-ordered IDs and spec defaults
// (priority 50, no deadline). It does not validate the result; call
// Validate before admitting the request to the pipeline.
func NewRequest(agentID string, payload []byte, budgetTokens float64, opts ...RequestOption) *Request {
	r := &Request{
		AgentID:      agentID,
		MessageID:    newTimeOrderedID(),
		Payload:      payload,
		BudgetTokens: budgetTokens,
		DeadlineMs:   NoDeadline,
		Priority:     50,
		TraceID:      newTimeOrderedID(),
		CreatedAtNs:  time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newTimeOrderedID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Band classifies this request's static priority.
func (r *Request) Band() PriorityBand {
	return BandOf(r.Priority)
}

// IsOverBudget reports whether estimatedCost exceeds the advisory
// budget_tokens carried on the request itself. This check is advisory only;
// the authoritative admission decision is the router's budget book.
func (r *Request) IsOverBudget(estimatedCost float64) bool {
	return estimatedCost > r.BudgetTokens
}

// IsExpired reports whether the request's deadline has passed. A deadline of
// NoDeadline (0) means "unset", not "already expired"; MaxDeadline likewise
// never expires.
func (r *Request) IsExpired(nowMs int64) bool {
	if r.DeadlineMs == NoDeadline || r.DeadlineMs == MaxDeadline {
		return false
	}
	return r.DeadlineMs < nowMs
}

// AgeMs returns the age of the request in milliseconds.
func (r *Request) AgeMs(nowNs int64) int64 {
	return (nowNs - r.CreatedAtNs) / int64(time.Millisecond)
}

// Validate applies the external-interface validation rules. It is meant to
// run exactly once, before any side effect, per the pipeline's first step.
func (r *Request) Validate(nowMs int64) error {
	if r.AgentID == "" {
		return &InvalidAgentIDError{AgentID: r.AgentID, Reason: "agent_id cannot be empty"}
	}
	if !agentIDPattern.MatchString(r.AgentID) {
		return &InvalidAgentIDError{AgentID: r.AgentID, Reason: "agent_id must match ^[a-z0-9_-]+$"}
	}
	if len(r.Payload) > MaxPayloadBytes {
		return &MessageTooLargeError{Size: len(r.Payload), Max: MaxPayloadBytes}
	}
	if r.BudgetTokens <= 0 {
		return &ValidationFailedError{Reason: "budget_tokens must be positive"}
	}
	if r.DeadlineMs != NoDeadline && r.DeadlineMs != MaxDeadline && r.DeadlineMs < nowMs {
		return &DeadlineExpiredError{DeadlineMs: r.DeadlineMs, CurrentMs: nowMs}
	}
	if r.Priority < 0 || r.Priority > 100 {
		return &ValidationFailedError{Reason: fmt.Sprintf("priority must be 0-100, got %d", r.Priority)}
	}
	return nil
}

// Marshal encodes a Request as JSON. Every field is exported, so the
// encoding is deterministic (encoding/json sorts map keys) and round-trips
// through Unmarshal byte-for-byte.
func (r *Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a Request previously produced by Marshal.
func (r *Request) Unmarshal(data []byte) error {
	return json.Unmarshal(data, r)
}

// AckStatus is the outcome recorded on an Acknowledgment.
type AckStatus int

const (
	AckProcessed AckStatus = iota
	AckFailed
)

func (s AckStatus) String() string {
	if s == AckProcessed {
		return "processed"
	}
	return "failed"
}

// Acknowledgment is returned to the caller once a request has been
// processed, whether routed live or served from the dedup cache.
type Acknowledgment struct {
	OriginalMessageID   string
	Status              AckStatus
	TokensUsed          float64
	ProcessingLatencyMs int32
	Error               string
	Result              []byte
}

// NewSuccessAck builds a processed acknowledgment.
func NewSuccessAck(originalMessageID string, tokensUsed float64, processingLatencyMs int32, result []byte) *Acknowledgment {
	return &Acknowledgment{
		OriginalMessageID:   originalMessageID,
		Status:              AckProcessed,
		TokensUsed:          tokensUsed,
		ProcessingLatencyMs: processingLatencyMs,
		Result:              result,
	}
}

// NewFailureAck builds a failed acknowledgment carrying the error text.
func NewFailureAck(originalMessageID string, err error) *Acknowledgment {
	return &Acknowledgment{
		OriginalMessageID: originalMessageID,
		Status:            AckFailed,
		Error:             err.Error(),
	}
}

// IsSuccess reports whether this acknowledgment represents success.
func (a *Acknowledgment) IsSuccess() bool {
	return a.Status == AckProcessed
}
