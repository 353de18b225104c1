// Package intent turns free-text shopping messages into routing decisions:
// which agent should handle the message, with what confidence, and which
// slot values it carries.
package intent

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"shopassist/internal/domain"
	"shopassist/internal/infra/logger"
	"shopassist/internal/infra/tracer"
)

// Precedence decides whether follow-up detection or keyword scoring runs first.
type Precedence string

const (
	FollowUpFirst Precedence = "follow_up_first"
	KeywordsFirst Precedence = "keywords_first"
)

const followUpConfidence = 0.8

// category is one keyword set and the agent it routes to.
type category struct {
	agent    string
	keywords []string
}

// categories is in tie-break priority order: on equal scores the earlier
// entry wins.
var categories = []category{
	{domain.AgentComparison, []string{
		"compare", "comparison", "vs", "versus", "difference", "differences",
		"better", "which one", "side by side",
	}},
	{domain.AgentCheckout, []string{
		"checkout", "check out", "purchase", "pay", "payment", "place order",
		"order", "complete", "finalize",
	}},
	{domain.AgentCartManager, []string{
		"cart", "basket", "add", "remove", "delete", "clear", "empty", "put",
		"quantity",
	}},
	{domain.AgentCO2Calculator, []string{
		"co2", "carbon", "emission", "emissions", "environmental", "environment",
		"eco", "footprint", "sustainable", "sustainability", "green", "climate",
		"impact",
	}},
	{domain.AgentProductDiscovery, []string{
		"find", "search", "show", "looking", "look", "browse", "recommend",
		"suggest", "need", "want", "buy", "under", "cheap", "price", "gift",
		"products", "product", "items",
	}},
}

// followUpTerms mark a message as continuing the previous turn.
var followUpTerms = []string{
	"yes", "yeah", "yep", "sure", "ok", "okay", "more", "about",
	"what about", "how about", "tell me more", "details", "detail",
	"that one", "this one",
}

// Classifier scores messages against fixed keyword tables. It holds no
// per-session state and is safe for concurrent use.
type Classifier struct {
	precedence Precedence
	vocab      *Vocabulary
	logger     *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPrecedence sets the follow-up/keyword precedence.
func WithPrecedence(p Precedence) Option {
	return func(c *Classifier) {
		if p == FollowUpFirst || p == KeywordsFirst {
			c.precedence = p
		}
	}
}

// WithVocabulary replaces the product vocabulary used for product mentions.
func WithVocabulary(v *Vocabulary) Option {
	return func(c *Classifier) { c.vocab = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger.OrDiscard(l) }
}

// New creates a Classifier with follow-up-first precedence.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		precedence: FollowUpFirst,
		vocab:      DefaultVocabulary,
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify routes message. conv carries the previous agent response used
// for follow-up detection; a zero value disables it. Classify never fails:
// an empty or unmatched message yields an intent with no primary agent.
func (c *Classifier) Classify(ctx context.Context, message string, conv domain.ConversationContext) domain.Intent {
	_, span := tracer.StartSpan(ctx, "intent.classify")
	defer span.End()

	in := c.classify(message, conv)

	span.SetAttributes(
		tracer.StringAttr("intent.type", string(in.Type)),
		tracer.StringAttr("intent.agent", in.PrimaryAgent),
		tracer.FloatAttr("intent.confidence", in.Confidence),
	)
	c.logger.Debug("message classified",
		"session_id", conv.SessionID,
		"agent", in.PrimaryAgent,
		"intent", string(in.Type),
		"confidence", in.Confidence,
		"follow_up", in.FollowUp,
	)
	return in
}

func (c *Classifier) classify(message string, conv domain.ConversationContext) domain.Intent {
	if strings.TrimSpace(message) == "" {
		return unknown()
	}
	t := normalize(message)

	if c.precedence == KeywordsFirst {
		if in, ok := c.score(t); ok {
			return in
		}
		if in, ok := c.followUp(t, conv.PreviousAgentResponse); ok {
			return in
		}
		return unknown()
	}

	if in, ok := c.followUp(t, conv.PreviousAgentResponse); ok {
		return in
	}
	if in, ok := c.score(t); ok {
		return in
	}
	return unknown()
}

func unknown() domain.Intent {
	return domain.Intent{Type: domain.IntentUnknown, Parameters: map[string]any{}}
}

// score runs the keyword pass. It reports false when no keyword matched.
func (c *Classifier) score(t text) (domain.Intent, bool) {
	best, bestCount := "", 0
	for _, cat := range categories {
		if n := t.count(cat.keywords); n > bestCount {
			best, bestCount = cat.agent, n
		}
	}
	if bestCount == 0 {
		return domain.Intent{}, false
	}

	words := len(strings.Fields(t.raw))
	return domain.Intent{
		PrimaryAgent: best,
		Confidence:   math.Min(float64(bestCount)/float64(words), 1.0),
		Type:         domain.IntentTypeFor(best),
		Parameters:   c.parameters(best, t),
	}, true
}

// followUp detects a continuation of the previous agent response. It never
// runs keyword scoring beyond the environmental and cart overrides.
func (c *Classifier) followUp(t text, previous string) (domain.Intent, bool) {
	if strings.TrimSpace(previous) == "" {
		return domain.Intent{}, false
	}
	prev := normalize(previous)

	mentioned := c.vocab.find(t)
	shared := ""
	prevProducts := c.vocab.find(prev)
	for _, name := range mentioned {
		for _, p := range prevProducts {
			if name == p {
				shared = name
				break
			}
		}
		if shared != "" {
			break
		}
	}

	if shared == "" && !t.hasAny(followUpTerms...) {
		return domain.Intent{}, false
	}

	agent, typ := domain.AgentProductDiscovery, domain.IntentProductDetails
	if t.count(keywordsOf(domain.AgentCO2Calculator)) > 0 {
		agent, typ = domain.AgentCO2Calculator, domain.IntentEnvironmental
	}
	if t.hasAny("cart", "add", "basket") {
		agent, typ = domain.AgentCartManager, domain.IntentCart
	}

	params := c.parameters(agent, t)
	params[domain.ParamFollowUp] = true
	if _, ok := params[domain.ParamProductName]; !ok {
		switch {
		case shared != "":
			params[domain.ParamProductName] = shared
		case len(mentioned) > 0:
			params[domain.ParamProductName] = mentioned[0]
		case len(prevProducts) > 0:
			params[domain.ParamProductName] = prevProducts[0]
		}
	}

	return domain.Intent{
		PrimaryAgent: agent,
		Confidence:   followUpConfidence,
		Type:         typ,
		Parameters:   params,
		FollowUp:     true,
	}, true
}

func keywordsOf(agent string) []string {
	for _, cat := range categories {
		if cat.agent == agent {
			return cat.keywords
		}
	}
	return nil
}

// parameters extracts the slots relevant to agent. Unmatched slots are absent.
func (c *Classifier) parameters(agent string, t text) map[string]any {
	params := make(map[string]any)
	products := c.vocab.find(t)

	switch agent {
	case domain.AgentProductDiscovery:
		if price, ok := MaxPrice(t.raw); ok {
			params[domain.ParamMaxPrice] = price
		}
		if cat, ok := t.category(); ok {
			params[domain.ParamCategory] = cat
		}
		if len(products) > 0 {
			params[domain.ParamProductName] = products[0]
		}
	case domain.AgentCartManager:
		if op, ok := t.cartOperation(); ok {
			params[domain.ParamOperation] = op
		}
		if len(products) > 0 {
			params[domain.ParamProductName] = products[0]
		}
	case domain.AgentCO2Calculator:
		params[domain.ParamIncludeShipping] = t.includesShipping()
		params[domain.ParamComparisonMode] = t.comparisonMode()
		if len(products) > 0 {
			params[domain.ParamProducts] = products
		}
	case domain.AgentComparison:
		if len(products) > 0 {
			params[domain.ParamProducts] = products
		}
	}
	return params
}
