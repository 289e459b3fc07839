// ABOUTME: Rule-based responder producing canned replies by topic keyword
// ABOUTME: Also provides the apology fallback used when generation fails

package ai

import (
	"context"
	"fmt"
	"strings"
)

// rule maps trigger keywords to a canned reply and follow-up actions.
type rule struct {
	keywords []string
	reply    string
	actions  []string
}

var defaultRules = []rule{
	{
		keywords: []string{"order", "shipping", "delivery", "track"},
		reply:    "I can help with your order. Could you share your order number so I can look into it?",
		actions:  []string{"Track my order", "Update shipping address"},
	},
	{
		keywords: []string{"return", "refund", "exchange"},
		reply:    "Returns are accepted within 30 days of delivery. I can start a return for you, or answer any questions about the process.",
		actions:  []string{"Start a return", "Check refund status"},
	},
	{
		keywords: []string{"hours", "open", "closed", "location"},
		reply:    "We're available Monday through Friday, 9am to 6pm. Outside those hours you can leave a message and we'll follow up.",
		actions:  []string{"Leave a message"},
	},
	{
		keywords: []string{"price", "cost", "pricing", "plan", "subscription"},
		reply:    "Happy to go over pricing with you. Which plan or product are you interested in?",
		actions:  []string{"Compare plans"},
	},
	{
		keywords: []string{"hello", "hi", "hey", "good morning", "good afternoon"},
		reply:    "Hi there! How can I help you today?",
		actions:  nil,
	},
}

const defaultReply = "Thanks for reaching out! Could you tell me a bit more about what you need help with?"

// connectAction is always offered last so customers can reach a human
// from any AI reply.
const connectAction = "Connect with human agent"

// RuleResponder matches customer messages against keyword rules and
// returns canned replies. It stands in for a hosted model and shares its
// response shape, so the two are interchangeable behind Responder.
type RuleResponder struct{}

// NewRuleResponder creates the built-in rule-based responder.
func NewRuleResponder() *RuleResponder {
	return &RuleResponder{}
}

// GenerateResponse picks the first rule whose keyword appears in the
// message. Replies carry a fixed confidence of 0.8 and at most three
// suggested actions, the last always offering a human handoff.
func (r *RuleResponder) GenerateResponse(ctx context.Context, message string, convCtx Context) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generating response: %w", err)
	}

	lower := strings.ToLower(message)
	for _, rule := range defaultRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &Response{
					Message:          personalize(rule.reply, convCtx),
					Confidence:       0.8,
					SuggestedActions: withConnectAction(rule.actions),
				}, nil
			}
		}
	}

	return &Response{
		Message:          personalize(defaultReply, convCtx),
		Confidence:       0.8,
		SuggestedActions: withConnectAction(nil),
	}, nil
}

// personalize prefixes a greeting-free reply with the customer's name
// on the first exchange.
func personalize(reply string, convCtx Context) string {
	if convCtx.CustomerName != "" && len(convCtx.History) == 0 {
		return fmt.Sprintf("Hi %s! %s", convCtx.CustomerName, reply)
	}
	return reply
}

// withConnectAction caps the action list at three entries with the
// human-handoff option always last.
func withConnectAction(actions []string) []string {
	if len(actions) > 2 {
		actions = actions[:2]
	}
	out := make([]string, 0, len(actions)+1)
	out = append(out, actions...)
	return append(out, connectAction)
}

// FallbackResponse is returned to the customer when response generation
// fails outright. Low confidence so the escalation path kicks in.
func FallbackResponse() *Response {
	return &Response{
		Message:          "I'm sorry, I'm having trouble responding right now. Would you like me to connect you with a human agent?",
		Confidence:       0.5,
		SuggestedActions: []string{"Try again", "Contact support", "Leave message"},
	}
}
