package cost

import "fmt"

// Pricing holds USD unit prices and the labels reported in breakdowns.
type Pricing struct {
	STTPerMinute        float64
	LLMInputPerMillion  float64
	LLMOutputPerMillion float64
	TTSPerThousandChars float64
	AvatarPerMinute     float64
	STTProvider         string
	STTModel            string
	LLMProvider         string
	LLMModel            string
	TTSProvider         string
	TTSModel            string
}

// DefaultPricing mirrors the published list prices for the default providers.
func DefaultPricing() Pricing {
	return Pricing{
		STTPerMinute:        0.0043,
		LLMInputPerMillion:  0.59,
		LLMOutputPerMillion: 0.79,
		TTSPerThousandChars: 0.015,
		AvatarPerMinute:     0.35,
		STTProvider:         "Deepgram",
		STTModel:            "nova-2",
		LLMProvider:         "Groq",
		LLMModel:            "llama-3.3-70b-versatile",
		TTSProvider:         "Cartesia",
		TTSModel:            "sonic-english",
	}
}

func (p Pricing) llmLabel() string {
	return fmt.Sprintf("$%g/1M in, $%g/1M out", p.LLMInputPerMillion, p.LLMOutputPerMillion)
}

func (p Pricing) avatarLabel() string {
	return fmt.Sprintf("$%g/min", p.AvatarPerMinute)
}
