package domain

// TicketResult is the outcome of running one ticket through the pipeline.
// Success tracks classification only; a response-generation failure shows up
// as an error variant in Response.
type TicketResult struct {
	TicketID       string               `json:"ticket_id"`
	Subject        string               `json:"subject"`
	Classification ClassificationResult `json:"classification"`
	Response       *ResponseEnvelope    `json:"response,omitempty"`
	Success        bool                 `json:"success"`
	Error          string               `json:"error,omitempty"`
}

func (r TicketResult) ResponseType() ResponseType {
	if r.Response == nil {
		return ""
	}
	return r.Response.FinalResponse.Type()
}

type RejectedTicket struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
}
