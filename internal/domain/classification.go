package domain

type ClassificationStatus string

const (
	StatusSuccess  ClassificationStatus = "success"
	StatusFallback ClassificationStatus = "fallback"
	StatusError    ClassificationStatus = "error"
)

type Reasoning struct {
	TopicReasoning     string `json:"topic_reasoning"`
	SentimentReasoning string `json:"sentiment_reasoning"`
	PriorityReasoning  string `json:"priority_reasoning"`
}

type Classification struct {
	TopicTag  Topic     `json:"topic_tag"`
	Sentiment Sentiment `json:"sentiment"`
	Priority  Priority  `json:"priority"`
	Reasoning Reasoning `json:"reasoning"`
}

type ClassificationResult struct {
	TicketID       string               `json:"ticket_id"`
	Subject        string               `json:"subject"`
	Classification Classification       `json:"classification"`
	Status         ClassificationStatus `json:"status"`
}

// DefaultClassification is substituted when the model cannot be reached.
func DefaultClassification() Classification {
	const why = "Default classification due to API error"
	return Classification{
		TopicTag:  TopicProduct,
		Sentiment: SentimentNeutral,
		Priority:  PriorityP1,
		Reasoning: Reasoning{
			TopicReasoning:     why,
			SentimentReasoning: why,
			PriorityReasoning:  why,
		},
	}
}

// Valid reports whether every label is inside its enumeration.
func (c Classification) Valid() bool {
	if _, ok := ParseTopic(string(c.TopicTag)); !ok {
		return false
	}
	if _, ok := ParseSentiment(string(c.Sentiment)); !ok {
		return false
	}
	_, ok := ParsePriority(string(c.Priority))
	return ok
}
