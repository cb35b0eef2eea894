package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	DocsKnowledgeBase      = "https://docs.atlan.com/"
	DeveloperKnowledgeBase = "https://developer.atlan.com/"
)

// KnowledgeBaseFor returns the documentation root answers for topic cite.
func KnowledgeBaseFor(topic Topic) string {
	if topic == TopicAPISDK {
		return DeveloperKnowledgeBase
	}
	return DocsKnowledgeBase
}

type SearchHit struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

type SearchResult struct {
	Success      bool        `json:"success"`
	Answer       string      `json:"answer"`
	Sources      []string    `json:"sources"`
	Results      []SearchHit `json:"results,omitempty"`
	Query        string      `json:"query"`
	UsedFallback bool        `json:"used_fallback,omitempty"`
	NotFound     bool        `json:"not_found,omitempty"`
	Error        string      `json:"error,omitempty"`
}

type ResponseType string

const (
	ResponseAnswer  ResponseType = "tavily_answer"
	ResponseRouting ResponseType = "routing"
	ResponseError   ResponseType = "error"
)

type AnswerResponse struct {
	Answer        string   `json:"answer"`
	Sources       []string `json:"sources"`
	KnowledgeBase string   `json:"knowledge_base"`
}

type RoutingInfo struct {
	Team     string `json:"team"`
	Category string `json:"category"`
	Priority string `json:"priority"`
}

type RoutingResponse struct {
	Message     string      `json:"message"`
	RoutingInfo RoutingInfo `json:"routing_info"`
}

type ErrorResponse struct {
	Message  string `json:"message"`
	Fallback string `json:"fallback"`
}

// FinalResponse holds exactly one of its variants. On the wire it is a flat
// object tagged by "type".
type FinalResponse struct {
	Answer  *AnswerResponse
	Routing *RoutingResponse
	Failure *ErrorResponse
}

var errResponseVariant = errors.New("final response must carry exactly one variant")

func NewAnswerResponse(a AnswerResponse) FinalResponse {
	return FinalResponse{Answer: &a}
}

func NewRoutingResponse(r RoutingResponse) FinalResponse {
	return FinalResponse{Routing: &r}
}

func NewErrorResponse(e ErrorResponse) FinalResponse {
	return FinalResponse{Failure: &e}
}

func (f FinalResponse) Type() ResponseType {
	switch {
	case f.Answer != nil:
		return ResponseAnswer
	case f.Routing != nil:
		return ResponseRouting
	case f.Failure != nil:
		return ResponseError
	}
	return ""
}

func (f FinalResponse) Validate() error {
	set := 0
	if f.Answer != nil {
		set++
	}
	if f.Routing != nil {
		set++
	}
	if f.Failure != nil {
		set++
	}
	if set != 1 {
		return errResponseVariant
	}
	return nil
}

func (f FinalResponse) MarshalJSON() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	switch f.Type() {
	case ResponseAnswer:
		return json.Marshal(struct {
			Type ResponseType `json:"type"`
			AnswerResponse
		}{ResponseAnswer, *f.Answer})
	case ResponseRouting:
		return json.Marshal(struct {
			Type ResponseType `json:"type"`
			RoutingResponse
		}{ResponseRouting, *f.Routing})
	default:
		return json.Marshal(struct {
			Type ResponseType `json:"type"`
			ErrorResponse
		}{ResponseError, *f.Failure})
	}
}

func (f *FinalResponse) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ResponseType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*f = FinalResponse{}
	switch head.Type {
	case ResponseAnswer:
		var a AnswerResponse
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		f.Answer = &a
	case ResponseRouting:
		var r RoutingResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		f.Routing = &r
	case ResponseError:
		var e ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		f.Failure = &e
	default:
		return fmt.Errorf("unknown response type %q", head.Type)
	}
	return nil
}

type InternalAnalysis struct {
	Topic     Topic     `json:"topic"`
	Sentiment Sentiment `json:"sentiment"`
	Priority  Priority  `json:"priority"`
	Reasoning Reasoning `json:"reasoning"`
}

func AnalysisOf(c Classification) InternalAnalysis {
	return InternalAnalysis{
		Topic:     c.TopicTag,
		Sentiment: c.Sentiment,
		Priority:  c.Priority,
		Reasoning: c.Reasoning,
	}
}

type ResponseEnvelope struct {
	TicketID         string           `json:"ticket_id"`
	Subject          string           `json:"subject"`
	InternalAnalysis InternalAnalysis `json:"internal_analysis"`
	FinalResponse    FinalResponse    `json:"final_response"`
	GeneratedAt      time.Time        `json:"generated_at"`
}
