package usage

// ModelPricing is a compile-time table entry: $/million tokens. Unknown
// models fall back to DefaultPricing rather than silently assuming a price.
type ModelPricing struct {
	InputPricePerMillion  float64
	OutputPricePerMillion float64
}

// DefaultPricing backs any model id not present in Pricing.
var DefaultPricing = ModelPricing{InputPricePerMillion: 3.0, OutputPricePerMillion: 15.0}

// Pricing mirrors the per-model price table shape observed in the corpus'
// budget-tracking code, narrowed to the handful of models chatcore talks to.
var Pricing = map[string]ModelPricing{
	"claude-3-opus-20240229":   {InputPricePerMillion: 15.0, OutputPricePerMillion: 75.0},
	"claude-3-sonnet-20240229": {InputPricePerMillion: 3.0, OutputPricePerMillion: 15.0},
	"claude-3-haiku-20240307":  {InputPricePerMillion: 0.25, OutputPricePerMillion: 1.25},
	"claude-3-5-sonnet-20241022": {InputPricePerMillion: 3.0, OutputPricePerMillion: 15.0},
	"claude-3-5-haiku-20241022":  {InputPricePerMillion: 0.8, OutputPricePerMillion: 4.0},
}

// PriceFor resolves a model id to its pricing, using DefaultPricing for an
// unrecognized model.
func PriceFor(model string) ModelPricing {
	if p, ok := Pricing[model]; ok {
		return p
	}
	return DefaultPricing
}
