package domain

// IntentType labels the kind of request a message expresses. It maps
// one-to-one onto the target agent.
type IntentType string

const (
	IntentProductSearch  IntentType = "product_search"
	IntentEnvironmental  IntentType = "environmental_analysis"
	IntentCart           IntentType = "cart_management"
	IntentCheckout       IntentType = "checkout"
	IntentComparison     IntentType = "product_comparison"
	IntentProductDetails IntentType = "product_details"
	IntentUnknown        IntentType = "unknown"
)

// IntentTypeFor returns the intent label for a target agent name.
func IntentTypeFor(agent string) IntentType {
	switch agent {
	case AgentProductDiscovery:
		return IntentProductSearch
	case AgentCO2Calculator:
		return IntentEnvironmental
	case AgentCartManager:
		return IntentCart
	case AgentCheckout:
		return IntentCheckout
	case AgentComparison:
		return IntentComparison
	default:
		return IntentUnknown
	}
}

// Parameter keys extracted by the classifier.
const (
	ParamMaxPrice        = "max_price"
	ParamCategory        = "category"
	ParamProductName     = "product_name"
	ParamProducts        = "products"
	ParamOperation       = "operation"
	ParamIncludeShipping = "include_shipping"
	ParamComparisonMode  = "comparison_mode"
	ParamFollowUp        = "follow_up"
)

// Intent is the classifier's routing decision for one message.
// PrimaryAgent is empty when nothing matched.
type Intent struct {
	PrimaryAgent string         `json:"primary_agent,omitempty"`
	Confidence   float64        `json:"confidence"`
	Type         IntentType     `json:"intent_type"`
	Parameters   map[string]any `json:"parameters"`
	FollowUp     bool           `json:"follow_up,omitempty"`
}

// Matched reports whether the intent names a target agent.
func (i Intent) Matched() bool {
	return i.PrimaryAgent != ""
}
