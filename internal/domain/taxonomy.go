package domain

import "strings"

type Topic string

const (
	TopicHowTo         Topic = "How-to"
	TopicProduct       Topic = "Product"
	TopicConnector     Topic = "Connector"
	TopicLineage       Topic = "Lineage"
	TopicAPISDK        Topic = "API/SDK"
	TopicSSO           Topic = "SSO"
	TopicGlossary      Topic = "Glossary"
	TopicBestPractices Topic = "Best practices"
	TopicSensitiveData Topic = "Sensitive data"
)

// Topics lists every topic in canonical order. Keyword extraction scans in
// this order, so earlier entries win ties.
var Topics = []Topic{
	TopicHowTo,
	TopicProduct,
	TopicConnector,
	TopicLineage,
	TopicAPISDK,
	TopicSSO,
	TopicGlossary,
	TopicBestPractices,
	TopicSensitiveData,
}

var topicDescriptions = map[Topic]string{
	TopicHowTo:         "Questions about how to perform specific tasks or use features",
	TopicProduct:       "General product questions, feature requests, or product functionality",
	TopicConnector:     "Issues with data source connections, crawlers, or connectors",
	TopicLineage:       "Questions about data lineage, upstream/downstream relationships",
	TopicAPISDK:        "Programming, API usage, SDK questions, or technical integration",
	TopicSSO:           "Single Sign-On, authentication, or identity provider issues",
	TopicGlossary:      "Business glossary, terms, definitions, or metadata management",
	TopicBestPractices: "Recommendations, best practices, or optimization advice",
	TopicSensitiveData: "PII, data classification, privacy, or security concerns",
}

// SearchSupportedTopics is the single definition of which topics get a
// generated answer. Everything else is routed to a team.
var SearchSupportedTopics = []Topic{
	TopicHowTo,
	TopicProduct,
	TopicBestPractices,
	TopicAPISDK,
	TopicSSO,
}

func (t Topic) Description() string {
	return topicDescriptions[t]
}

func (t Topic) SearchSupported() bool {
	for _, s := range SearchSupportedTopics {
		if s == t {
			return true
		}
	}
	return false
}

func ParseTopic(s string) (Topic, bool) {
	s = strings.TrimSpace(s)
	for _, t := range Topics {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

type Sentiment string

const (
	SentimentFrustrated Sentiment = "Frustrated"
	SentimentCurious    Sentiment = "Curious"
	SentimentAngry      Sentiment = "Angry"
	SentimentNeutral    Sentiment = "Neutral"
	SentimentPositive   Sentiment = "Positive"
	SentimentConcerned  Sentiment = "Concerned"
)

var Sentiments = []Sentiment{
	SentimentFrustrated,
	SentimentCurious,
	SentimentAngry,
	SentimentNeutral,
	SentimentPositive,
	SentimentConcerned,
}

var sentimentDescriptions = map[Sentiment]string{
	SentimentFrustrated: "User is experiencing difficulties and showing frustration",
	SentimentCurious:    "User is exploring or learning about features",
	SentimentAngry:      "User is upset or dissatisfied",
	SentimentNeutral:    "Neutral tone, factual inquiry",
	SentimentPositive:   "User is satisfied or complimentary",
	SentimentConcerned:  "User has worries or concerns about something",
}

func (s Sentiment) Description() string {
	return sentimentDescriptions[s]
}

func ParseSentiment(s string) (Sentiment, bool) {
	s = strings.TrimSpace(s)
	for _, v := range Sentiments {
		if strings.EqualFold(string(v), s) {
			return v, true
		}
	}
	return "", false
}

type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

var Priorities = []Priority{PriorityP0, PriorityP1, PriorityP2}

var priorityDescriptions = map[Priority]string{
	PriorityP0: "High - Urgent issues blocking work, production problems, or critical deadlines",
	PriorityP1: "Medium - Important issues that need attention but not blocking",
	PriorityP2: "Low - General questions, nice-to-have features, or non-urgent requests",
}

func (p Priority) Description() string {
	return priorityDescriptions[p]
}

// ParsePriority accepts the bare level ("p1") and the decorated form the
// model tends to echo back from the prompt ("P0 (High)").
func ParsePriority(s string) (Priority, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " (-:"); i > 0 {
		s = s[:i]
	}
	for _, p := range Priorities {
		if strings.EqualFold(string(p), s) {
			return p, true
		}
	}
	return "", false
}
