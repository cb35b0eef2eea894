package llm

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ticketbot/internal/domain"
)

// KeywordGlossary adds site-specific phrases to keyword extraction. Entries
// are checked before the built-in keyword lists.
type KeywordGlossary struct {
	Topics     []TopicTerm     `yaml:"topics"`
	Sentiments []SentimentTerm `yaml:"sentiments"`
	Priorities []PriorityTerm  `yaml:"priorities"`
}

type TopicTerm struct {
	Phrase string `yaml:"phrase"`
	Topic  string `yaml:"topic"`
}

type SentimentTerm struct {
	Phrase    string `yaml:"phrase"`
	Sentiment string `yaml:"sentiment"`
}

type PriorityTerm struct {
	Phrase   string `yaml:"phrase"`
	Priority string `yaml:"priority"`
}

func LoadKeywordGlossary(path string) (*KeywordGlossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	var g KeywordGlossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	return &g, nil
}

// AppendTopicTerm records a phrase→topic mapping, skipping phrases that are
// already present.
func AppendTopicTerm(path, phrase string, topic domain.Topic) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || topic == "" {
		return nil
	}

	var glossary KeywordGlossary
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &glossary); err != nil {
			return fmt.Errorf("parse existing glossary: %w", err)
		}
	}

	normalized := normalizeTextToken(phrase)
	for _, t := range glossary.Topics {
		if normalizeTextToken(t.Phrase) == normalized {
			return nil // already exists
		}
	}
	glossary.Topics = append(glossary.Topics, TopicTerm{Phrase: phrase, Topic: string(topic)})

	out, err := yaml.Marshal(&glossary)
	if err != nil {
		return fmt.Errorf("marshal glossary: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (g *KeywordGlossary) topicFor(lower string) (domain.Topic, bool) {
	if g == nil {
		return "", false
	}
	for _, t := range g.Topics {
		phrase := normalizeTextToken(t.Phrase)
		if phrase == "" || !strings.Contains(lower, phrase) {
			continue
		}
		if topic, ok := domain.ParseTopic(t.Topic); ok {
			return topic, true
		}
	}
	return "", false
}

func (g *KeywordGlossary) sentimentFor(lower string) (domain.Sentiment, bool) {
	if g == nil {
		return "", false
	}
	for _, t := range g.Sentiments {
		phrase := normalizeTextToken(t.Phrase)
		if phrase == "" || !strings.Contains(lower, phrase) {
			continue
		}
		if s, ok := domain.ParseSentiment(t.Sentiment); ok {
			return s, true
		}
	}
	return "", false
}

func (g *KeywordGlossary) priorityFor(lower string) (domain.Priority, bool) {
	if g == nil {
		return "", false
	}
	for _, t := range g.Priorities {
		phrase := normalizeTextToken(t.Phrase)
		if phrase == "" || !strings.Contains(lower, phrase) {
			continue
		}
		if p, ok := domain.ParsePriority(t.Priority); ok {
			return p, true
		}
	}
	return "", false
}
