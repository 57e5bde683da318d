package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hxnx/lightshow/internal/display"
	"github.com/hxnx/lightshow/internal/playback"
)

const storeTimeout = 2 * time.Second

// Store keeps play commands, their attachments and incoming social messages
// in one SQL database.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type commandRow struct {
	ID                string `db:"id"`
	CreatedAt         int64  `db:"created_at"`
	DurationSeconds   int    `db:"duration_seconds"`
	Status            string `db:"status"`
	FileName          string `db:"file_name"`
	TrackName         string `db:"track_name"`
	SubmissionHost    string `db:"submission_host"`
	ExternalSessionID string `db:"external_session_id"`
	AttachmentID      string `db:"attachment_id"`
	Exception         string `db:"exception"`
}

func (r commandRow) command() playback.Command {
	return playback.Command{
		ID:                r.ID,
		CreatedAt:         time.UnixMilli(r.CreatedAt).UTC(),
		DurationSeconds:   r.DurationSeconds,
		Status:            playback.Status(r.Status),
		FileName:          r.FileName,
		TrackName:         r.TrackName,
		SubmissionHost:    r.SubmissionHost,
		ExternalSessionID: r.ExternalSessionID,
		AttachmentID:      r.AttachmentID,
		Exception:         r.Exception,
	}
}

func toCommandRow(c playback.Command) commandRow {
	return commandRow{
		ID:                c.ID,
		CreatedAt:         c.CreatedAt.UnixMilli(),
		DurationSeconds:   c.DurationSeconds,
		Status:            string(c.Status),
		FileName:          c.FileName,
		TrackName:         c.TrackName,
		SubmissionHost:    c.SubmissionHost,
		ExternalSessionID: c.ExternalSessionID,
		AttachmentID:      c.AttachmentID,
		Exception:         c.Exception,
	}
}

const commandColumns = `id, created_at, duration_seconds, status, file_name, track_name,
	submission_host, external_session_id, attachment_id, exception`

func (s *Store) FindByStatus(ctx context.Context, status playback.Status, limit int) ([]playback.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	query := `SELECT ` + commandColumns + ` FROM play_commands WHERE status = ? ORDER BY created_at, id`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []commandRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find commands by status %s: %w", status, err)
	}

	out := make([]playback.Command, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.command())
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*playback.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var row commandRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+commandColumns+` FROM play_commands WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, playback.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find command %s: %w", id, err)
	}

	cmd := row.command()
	return &cmd, nil
}

func (s *Store) Save(ctx context.Context, cmd playback.Command) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	const query = `
		INSERT INTO play_commands (` + commandColumns + `)
		VALUES (:id, :created_at, :duration_seconds, :status, :file_name, :track_name,
			:submission_host, :external_session_id, :attachment_id, :exception)
		ON CONFLICT (id)
		DO UPDATE SET
			duration_seconds = EXCLUDED.duration_seconds,
			status = EXCLUDED.status,
			file_name = EXCLUDED.file_name,
			track_name = EXCLUDED.track_name,
			attachment_id = EXCLUDED.attachment_id,
			exception = EXCLUDED.exception
	`

	if _, err := s.db.NamedExecContext(ctx, query, toCommandRow(cmd)); err != nil {
		return fmt.Errorf("save command %s: %w", cmd.ID, err)
	}
	return nil
}

// UpdateStatus only touches rows that are still ENQUEUED, so a concurrent
// writer cannot overwrite a status that is already terminal.
func (s *Store) UpdateStatus(ctx context.Context, id string, to playback.Status, exception string) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s -> %s", playback.ErrInvalidTransition, playback.StatusEnqueued, to)
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	const query = `UPDATE play_commands SET status = ?, exception = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), string(to), exception, id, string(playback.StatusEnqueued))
	if err != nil {
		return fmt.Errorf("update command %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update command %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, s.db.Rebind(`SELECT status FROM play_commands WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", playback.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("find command %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s -> %s", playback.ErrInvalidTransition, current, to)
}

func (s *Store) CountRecent(ctx context.Context, externalSessionID, submissionHost string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	const query = `
		SELECT COUNT(*) FROM play_commands
		WHERE external_session_id = ? AND submission_host = ? AND created_at > ?
	`

	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), externalSessionID, submissionHost, since.UnixMilli()); err != nil {
		return 0, fmt.Errorf("count recent commands: %w", err)
	}
	return n, nil
}

type attachmentRow struct {
	ID          string `db:"id"`
	ParentID    string `db:"parent_id"`
	FileName    string `db:"file_name"`
	ContentType string `db:"content_type"`
	Content     []byte `db:"content"`
	CreatedAt   int64  `db:"created_at"`
}

func (s *Store) PutAttachment(ctx context.Context, a playback.Attachment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO attachments (id, parent_id, file_name, content_type, content, created_at)
		VALUES (:id, :parent_id, :file_name, :content_type, :content, :created_at)
	`
	row := attachmentRow{
		ID:          a.ID,
		ParentID:    a.ParentID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Content:     a.Content,
		CreatedAt:   a.CreatedAt.UnixMilli(),
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return "", fmt.Errorf("store attachment for %s: %w", a.ParentID, err)
	}
	return a.ID, nil
}

func (s *Store) GetAttachment(ctx context.Context, id string) (*playback.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var row attachmentRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, parent_id, file_name, content_type, content, created_at
		FROM attachments WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, playback.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}

	return &playback.Attachment{
		ID:          row.ID,
		ParentID:    row.ParentID,
		FileName:    row.FileName,
		ContentType: row.ContentType,
		Content:     row.Content,
		CreatedAt:   time.UnixMilli(row.CreatedAt).UTC(),
	}, nil
}

func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM attachments WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	return nil
}

type messageRow struct {
	ID         int64  `db:"id"`
	Sender     string `db:"sender"`
	Message    string `db:"message"`
	ReceivedAt int64  `db:"received_at"`
	Processed  bool   `db:"processed"`
}

func (r messageRow) message() *display.SocialMessage {
	return &display.SocialMessage{
		ID:         r.ID,
		Sender:     r.Sender,
		Message:    r.Message,
		ReceivedAt: time.UnixMilli(r.ReceivedAt).UTC(),
		Processed:  r.Processed,
	}
}

// AddMessage records an incoming social message as unprocessed.
func (s *Store) AddMessage(ctx context.Context, sender, message string, receivedAt time.Time) (*display.SocialMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	const query = `
		INSERT INTO social_messages (sender, message, received_at, processed)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`

	var id int64
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), sender, message, receivedAt.UnixMilli(), false).Scan(&id); err != nil {
		return nil, fmt.Errorf("add social message: %w", err)
	}

	return &display.SocialMessage{
		ID:         id,
		Sender:     sender,
		Message:    message,
		ReceivedAt: time.UnixMilli(receivedAt.UnixMilli()).UTC(),
	}, nil
}

func (s *Store) HasUnprocessed(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM social_messages WHERE processed = ?`), false); err != nil {
		return false, fmt.Errorf("count unprocessed messages: %w", err)
	}
	return n > 0, nil
}

func (s *Store) FirstUnprocessed(ctx context.Context) (*display.SocialMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var row messageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, sender, message, received_at, processed
		FROM social_messages
		WHERE processed = ?
		ORDER BY received_at, id
		LIMIT 1
	`), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, display.ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("first unprocessed message: %w", err)
	}
	return row.message(), nil
}

func (s *Store) MarkProcessed(ctx context.Context, id int64) (*display.SocialMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE social_messages SET processed = ? WHERE id = ?`), true, id)
	if err != nil {
		return nil, fmt.Errorf("mark message %d processed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, display.ErrNoMessage
	}

	var row messageRow
	err = s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, sender, message, received_at, processed
		FROM social_messages WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, display.ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("load message %d: %w", id, err)
	}
	return row.message(), nil
}
