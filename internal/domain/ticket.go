package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidTicket = errors.New("invalid ticket")

type Ticket struct {
	ID      string `json:"id" validate:"required"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateTicket rejects tickets with a missing or blank id, subject or body.
func ValidateTicket(t Ticket) error {
	trimmed := Ticket{
		ID:      strings.TrimSpace(t.ID),
		Subject: strings.TrimSpace(t.Subject),
		Body:    strings.TrimSpace(t.Body),
	}
	if err := validate.Struct(trimmed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
			return fmt.Errorf("%w %q: missing %s", ErrInvalidTicket, t.ID, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w %q: %v", ErrInvalidTicket, t.ID, err)
	}
	return nil
}

// Query is the text sent to search for a ticket.
func (t Ticket) Query() string {
	return strings.TrimSpace(t.Subject + " " + t.Body)
}

// MaxQueryChars is the longest query the search API accepts.
const MaxQueryChars = 400

// ClipQuery returns q unchanged when it fits MaxQueryChars, otherwise its
// first MaxQueryChars-3 characters followed by "...".
func ClipQuery(q string) string {
	runes := []rune(q)
	if len(runes) <= MaxQueryChars {
		return q
	}
	return string(runes[:MaxQueryChars-3]) + "..."
}
