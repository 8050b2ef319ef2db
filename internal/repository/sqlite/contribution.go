package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/model"
	"github.com/sakif/automata/internal/repository"
)

var _ repository.ContributionRepository = (*Contributions)(nil)

// Contributions is the contribution document store.
type Contributions struct {
	conn *sql.DB
}

// Contributions returns the contribution repository backed by db.
func (db *DB) Contributions() *Contributions {
	return &Contributions{conn: db.conn}
}

const contributionColumns = `id, public_id, title, date_added,
	author_public_id, author_title, author_avatar, author_username,
	tags, data_type, data_info, data_image, review_message, review_approved`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts c in a single statement. ID and PublicID must already be
// set; messages and rate always start empty.
func (r *Contributions) Create(ctx context.Context, c *model.Contribution) error {
	if c.DateAdded.IsZero() {
		c.DateAdded = time.Now().UTC()
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	c.Messages = []model.Message{}
	c.Raters = []string{}
	c.Rate = 0

	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = r.conn.ExecContext(ctx,
		`INSERT INTO contributions (`+contributionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.PublicID,
		c.Title,
		c.DateAdded,
		c.Author.PublicID,
		c.Author.Title,
		c.Author.Avatar,
		c.Author.Username,
		string(tags),
		c.Data.Type,
		c.Data.Info,
		c.Data.Image,
		nullString(c.Review.Message),
		nullBool(c.Review.Approved),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating contribution: %w", err)
	}

	return nil
}

// GetByID loads a contribution with its messages and rate set.
// Returns apperror.ErrNotFound if no record matches.
func (r *Contributions) GetByID(ctx context.Context, id string) (*model.Contribution, error) {
	row := r.conn.QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id)

	c, err := scanContribution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("contribution", id)
		}
		return nil, fmt.Errorf("sqlite: getting contribution %s: %w", id, err)
	}

	if err := r.hydrate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListRecent returns contributions ordered by date_added, newest first.
func (r *Contributions) ListRecent(ctx context.Context, opts repository.ListOptions) ([]model.Contribution, error) {
	limit, offset := clamp(opts)
	return r.list(ctx, "listing contributions",
		`SELECT `+contributionColumns+` FROM contributions
		 ORDER BY date_added DESC, rowid DESC
		 LIMIT ? OFFSET ?`,
		limit, offset)
}

// ListByTag returns contributions whose tags contain tag, newest first.
// tag must already be normalized ("#amor").
func (r *Contributions) ListByTag(ctx context.Context, tag string, opts repository.ListOptions) ([]model.Contribution, error) {
	limit, offset := clamp(opts)
	return r.list(ctx, "listing contributions by tag",
		`SELECT `+contributionColumns+` FROM contributions
		 WHERE EXISTS (SELECT 1 FROM json_each(contributions.tags) WHERE json_each.value = ?)
		 ORDER BY date_added DESC, rowid DESC
		 LIMIT ? OFFSET ?`,
		tag, limit, offset)
}

// ListByAuthor returns the contributions submitted by username, newest first.
func (r *Contributions) ListByAuthor(ctx context.Context, username string, opts repository.ListOptions) ([]model.Contribution, error) {
	limit, offset := clamp(opts)
	return r.list(ctx, "listing contributions by author",
		`SELECT `+contributionColumns+` FROM contributions
		 WHERE author_username = ?
		 ORDER BY date_added DESC, rowid DESC
		 LIMIT ? OFFSET ?`,
		username, limit, offset)
}

func (r *Contributions) list(ctx context.Context, op, query string, args ...any) ([]model.Contribution, error) {
	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}

	var result []model.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning contribution row: %w", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating contributions: %w", err)
	}
	// Close before hydrating: with a single pooled connection the child
	// queries would otherwise wait on this cursor forever.
	rows.Close()

	contributions := make([]model.Contribution, 0, len(result))
	for i := range result {
		if err := r.hydrate(ctx, &result[i]); err != nil {
			return nil, err
		}
		contributions = append(contributions, result[i])
	}
	return contributions, nil
}

// UpdateData replaces the data payload. Merging is the caller's job.
func (r *Contributions) UpdateData(ctx context.Context, id string, data model.ContributionData) error {
	result, err := r.conn.ExecContext(ctx,
		`UPDATE contributions SET data_type = ?, data_info = ?, data_image = ? WHERE id = ?`,
		data.Type, data.Info, data.Image, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating contribution data %s: %w", id, err)
	}
	return expectOne(result, "contribution", id)
}

// UpdateReview replaces the review as a whole.
func (r *Contributions) UpdateReview(ctx context.Context, id string, review model.Review) error {
	result, err := r.conn.ExecContext(ctx,
		`UPDATE contributions SET review_message = ?, review_approved = ? WHERE id = ?`,
		nullString(review.Message), nullBool(review.Approved), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating contribution review %s: %w", id, err)
	}
	return expectOne(result, "contribution", id)
}

// ToggleRate flips username's membership in the rate set inside one
// transaction: delete it, and insert it only if nothing was deleted. The
// first statement is a write, so the transaction holds the write lock from
// the start and concurrent toggles queue on busy_timeout.
func (r *Contributions) ToggleRate(ctx context.Context, id, username string) (int, bool, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: beginning rate toggle: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM contribution_rates WHERE contribution_id = ? AND username = ?`,
		id, username,
	)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: removing rate %s/%s: %w", id, username, err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	rated := removed == 0
	if rated {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO contribution_rates (contribution_id, username, rated_at)
			 SELECT ?, ?, ?
			 WHERE EXISTS (SELECT 1 FROM contributions WHERE id = ?)`,
			id, username, time.Now().UTC(), id,
		)
		if err != nil {
			return 0, false, fmt.Errorf("sqlite: adding rate %s/%s: %w", id, username, err)
		}
		if err := expectOne(result, "contribution", id); err != nil {
			return 0, false, err
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contribution_rates WHERE contribution_id = ?`, id,
	).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("sqlite: counting rates %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("sqlite: committing rate toggle: %w", err)
	}
	return count, rated, nil
}

// AppendMessage adds msg to the end of the thread. The existence check and
// the insert are one statement.
func (r *Contributions) AppendMessage(ctx context.Context, id string, msg *model.Message) error {
	if msg.Date.IsZero() {
		msg.Date = time.Now().UTC()
	}

	result, err := r.conn.ExecContext(ctx,
		`INSERT INTO contribution_messages
			(id, contribution_id, content, created_at, author_username, author_public_id, author_avatar)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM contributions WHERE id = ?)`,
		msg.ID,
		id,
		msg.Content,
		msg.Date,
		msg.Author.Username,
		msg.Author.PublicID,
		msg.Author.Avatar,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending message to %s: %w", id, err)
	}
	return expectOne(result, "contribution", id)
}

// RemoveMessage deletes one message from a contribution's thread.
func (r *Contributions) RemoveMessage(ctx context.Context, id, messageID string) error {
	result, err := r.conn.ExecContext(ctx,
		`DELETE FROM contribution_messages WHERE contribution_id = ? AND id = ?`,
		id, messageID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing message %s from %s: %w", messageID, id, err)
	}
	return expectOne(result, "message", messageID)
}

// Delete hard-deletes a contribution together with its messages and rates.
func (r *Contributions) Delete(ctx context.Context, id string) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning delete: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM contribution_messages WHERE contribution_id = ?`,
		`DELETE FROM contribution_rates WHERE contribution_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("sqlite: deleting children of %s: %w", id, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting contribution %s: %w", id, err)
	}
	if err := expectOne(result, "contribution", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing delete: %w", err)
	}
	return nil
}

// hydrate loads the messages and rate set of c.
func (r *Contributions) hydrate(ctx context.Context, c *model.Contribution) error {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, content, created_at, author_username, author_public_id, author_avatar
		 FROM contribution_messages
		 WHERE contribution_id = ?
		 ORDER BY seq`,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: loading messages of %s: %w", c.ID, err)
	}
	defer rows.Close()

	c.Messages = []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(
			&m.ID, &m.Content, &m.Date,
			&m.Author.Username, &m.Author.PublicID, &m.Author.Avatar,
		); err != nil {
			return fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	rows.Close()

	rateRows, err := r.conn.QueryContext(ctx,
		`SELECT username FROM contribution_rates
		 WHERE contribution_id = ?
		 ORDER BY rated_at, rowid`,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: loading rates of %s: %w", c.ID, err)
	}
	defer rateRows.Close()

	c.Raters = []string{}
	for rateRows.Next() {
		var username string
		if err := rateRows.Scan(&username); err != nil {
			return fmt.Errorf("sqlite: scanning rate row: %w", err)
		}
		c.Raters = append(c.Raters, username)
	}
	if err := rateRows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterating rates: %w", err)
	}
	c.Rate = len(c.Raters)

	return nil
}

func scanContribution(s rowScanner) (*model.Contribution, error) {
	var (
		c              model.Contribution
		tags           string
		reviewMessage  sql.NullString
		reviewApproved sql.NullBool
	)

	if err := s.Scan(
		&c.ID, &c.PublicID, &c.Title, &c.DateAdded,
		&c.Author.PublicID, &c.Author.Title, &c.Author.Avatar, &c.Author.Username,
		&tags, &c.Data.Type, &c.Data.Info, &c.Data.Image,
		&reviewMessage, &reviewApproved,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if reviewMessage.Valid {
		msg := reviewMessage.String
		c.Review.Message = &msg
	}
	if reviewApproved.Valid {
		approved := reviewApproved.Bool
		c.Review.Approved = &approved
	}

	return &c, nil
}

// expectOne maps "no row affected" to NotFound for resource/id.
func expectOne(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
