// ABOUTME: AI responder contract plus message classification helpers
// ABOUTME: Keyword heuristics for human-transfer intent and urgency detection

package ai

import (
	"context"
	"strings"
)

// Response is what a responder produced for a customer message.
type Response struct {
	Message          string   `json:"message"`
	Confidence       float64  `json:"confidence"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
}

// Context carries conversation state a responder may condition on.
type Context struct {
	BusinessID   string
	CustomerName string
	History      []string // prior message contents, oldest first
}

// Responder generates a reply to a customer message. Implementations
// must be safe for concurrent use.
type Responder interface {
	GenerateResponse(ctx context.Context, message string, convCtx Context) (*Response, error)
}

// Urgency levels attached to customer messages.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

var transferPhrases = []string{
	"human",
	"agent",
	"person",
	"speak to someone",
	"talk to someone",
	"representative",
	"escalate",
	"manager",
	"supervisor",
	"real person",
}

// ShouldTransferToHuman reports whether the customer is asking for a
// human rather than an answer. Matching is substring-based and case
// insensitive, which errs toward handing off.
func ShouldTransferToHuman(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range transferPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var (
	highUrgencyWords   = []string{"urgent", "emergency", "asap", "immediately", "critical", "broken", "down"}
	mediumUrgencyWords = []string{"issue", "problem", "trouble", "help", "stuck", "error"}
)

// DetectUrgency classifies a message as high, medium, or low urgency
// based on keyword presence. High wins over medium.
func DetectUrgency(message string) string {
	lower := strings.ToLower(message)
	for _, word := range highUrgencyWords {
		if strings.Contains(lower, word) {
			return UrgencyHigh
		}
	}
	for _, word := range mediumUrgencyWords {
		if strings.Contains(lower, word) {
			return UrgencyMedium
		}
	}
	return UrgencyLow
}

// NeedsHuman reports whether a generated response signals that the
// conversation should be escalated: the responder was unsure or the
// customer's message read as high urgency.
func NeedsHuman(resp *Response, urgency string) bool {
	return resp.Confidence < 0.6 || urgency == UrgencyHigh
}
