package ticketfile

import (
	"encoding/json"
	"fmt"
	"os"

	"ticketbot/internal/domain"
)

// Load reads a JSON array of tickets.
func Load(path string) ([]domain.Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tickets: %w", err)
	}
	var tickets []domain.Ticket
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("parse tickets %s: %w", path, err)
	}
	return tickets, nil
}

func Save(path string, tickets []domain.Ticket) error {
	data, err := json.MarshalIndent(tickets, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tickets: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Append adds a ticket to the file, creating it if needed. Ids must be unique.
func Append(path string, t domain.Ticket) error {
	if err := domain.ValidateTicket(t); err != nil {
		return err
	}
	var tickets []domain.Ticket
	if _, err := os.Stat(path); err == nil {
		existing, err := Load(path)
		if err != nil {
			return err
		}
		tickets = existing
	}
	for _, e := range tickets {
		if e.ID == t.ID {
			return fmt.Errorf("ticket %s already exists in %s", t.ID, path)
		}
	}
	return Save(path, append(tickets, t))
}
