package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"ticketbot/internal/domain"
)

var ErrDuplicateTicket = errors.New("ticket already exists")

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id         TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS ticket_results (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id                TEXT NOT NULL,
		ticket_id             TEXT NOT NULL,
		topic                 TEXT NOT NULL,
		sentiment             TEXT NOT NULL,
		priority              TEXT NOT NULL,
		classification_status TEXT NOT NULL,
		response_type         TEXT DEFAULT '',
		result_json           TEXT NOT NULL,
		processed_at          DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tr_ticket ON ticket_results(ticket_id);
	CREATE INDEX IF NOT EXISTS idx_tr_run ON ticket_results(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func InsertTicket(db *sql.DB, t domain.Ticket) error {
	_, err := db.Exec(`INSERT INTO tickets (id, subject, body) VALUES (?, ?, ?)`, t.ID, t.Subject, t.Body)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrDuplicateTicket, t.ID)
	}
	return err
}

// InsertTickets stores tickets in one transaction, skipping ids that already
// exist. It returns how many rows were added.
func InsertTickets(db *sql.DB, tickets []domain.Ticket) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO tickets (id, subject, body) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range tickets {
		res, err := stmt.Exec(t.ID, t.Subject, t.Body)
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

func GetTicket(db *sql.DB, id string) (domain.Ticket, error) {
	var t domain.Ticket
	err := db.QueryRow(`SELECT id, subject, body FROM tickets WHERE id = ?`, id).Scan(&t.ID, &t.Subject, &t.Body)
	return t, err
}

func ListTickets(db *sql.DB) ([]domain.Ticket, error) {
	return queryTickets(db, `SELECT id, subject, body FROM tickets ORDER BY created_at, id`)
}

// ListUnprocessedTickets returns tickets that have no stored result yet.
func ListUnprocessedTickets(db *sql.DB) ([]domain.Ticket, error) {
	return queryTickets(db, `
		SELECT t.id, t.subject, t.body FROM tickets t
		WHERE NOT EXISTS (SELECT 1 FROM ticket_results r WHERE r.ticket_id = t.id)
		ORDER BY t.created_at, t.id`)
}

func queryTickets(db *sql.DB, query string) ([]domain.Ticket, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.Subject, &t.Body); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func SaveResults(db *sql.DB, runID string, processedAt time.Time, results []domain.TicketResult) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO ticket_results (run_id, ticket_id, topic, sentiment, priority, classification_status, response_type, result_json, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal result %s: %w", r.TicketID, err)
		}
		c := r.Classification.Classification
		if !c.Valid() {
			return fmt.Errorf("result %s has labels outside the taxonomy: %s/%s/%s", r.TicketID, c.TopicTag, c.Sentiment, c.Priority)
		}
		if _, err := stmt.Exec(
			runID, r.TicketID, string(c.TopicTag), string(c.Sentiment), string(c.Priority),
			string(r.Classification.Status), string(r.ResponseType()), string(data), processedAt.UTC(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LatestResult returns the most recent stored result for a ticket.
func LatestResult(db *sql.DB, ticketID string) (domain.TicketResult, error) {
	var data string
	err := db.QueryRow(
		`SELECT result_json FROM ticket_results WHERE ticket_id = ? ORDER BY processed_at DESC, id DESC LIMIT 1`,
		ticketID,
	).Scan(&data)
	if err != nil {
		return domain.TicketResult{}, err
	}
	var r domain.TicketResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return domain.TicketResult{}, fmt.Errorf("parse stored result: %w", err)
	}
	return r, nil
}

// TopicCounts tallies stored classifications by topic.
func TopicCounts(db *sql.DB) (map[string]int, error) {
	rows, err := db.Query(`SELECT topic, COUNT(*) FROM ticket_results GROUP BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var topic string
		var n int
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, err
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}
