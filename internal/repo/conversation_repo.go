package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type ConversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: sqlx.NewDb(db, "postgres")}
}

type sessionRow struct {
	SessionID string `db:"session_id"`
	UserID    string `db:"user_id"`
	RepoURL   string `db:"repo_url"`
	Ctime     int64  `db:"ctime"`
	Mtime     int64  `db:"mtime"`
}

type messageRow struct {
	SessionID     string `db:"session_id"`
	Role          string `db:"role"`
	Content       string `db:"content"`
	CitationsJSON string `db:"citations_json"`
	Ctime         int64  `db:"ctime"`
}

// Append upserts the session and pushes msgs in one transaction. A session
// owned by another user is rejected with ErrForbidden.
func (r *ConversationRepo) Append(ctx context.Context, session *model.ConversationSession, msgs []model.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	const upsert = `
		INSERT INTO conversation_sessions (session_id, user_id, repo_url, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET mtime = EXCLUDED.mtime
		WHERE conversation_sessions.user_id = EXCLUDED.user_id
		RETURNING session_id
	`
	var sid string
	if err := tx.QueryRowxContext(ctx, upsert, session.SessionID, session.UserID, session.RepoURL, session.Ctime, session.Mtime).Scan(&sid); err != nil {
		if err == sql.ErrNoRows {
			return appErr.ErrForbidden
		}
		return err
	}
	if len(msgs) > 0 {
		rows := make([]messageRow, 0, len(msgs))
		for _, m := range msgs {
			citations := m.Citations
			if citations == nil {
				citations = []model.Citation{}
			}
			raw, err := json.Marshal(citations)
			if err != nil {
				return fmt.Errorf("encode citations: %w", err)
			}
			rows = append(rows, messageRow{
				SessionID:     session.SessionID,
				Role:          m.Role,
				Content:       m.Content,
				CitationsJSON: string(raw),
				Ctime:         m.Timestamp,
			})
		}
		const insert = `INSERT INTO conversation_messages (session_id, role, content, citations_json, ctime) ` +
			`VALUES (:session_id, :role, :content, :citations_json, :ctime)`
		if _, err := tx.NamedExecContext(ctx, insert, rows); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns the last limit messages of a session, oldest first. A
// session that does not exist yet has no history.
func (r *ConversationRepo) History(ctx context.Context, userID, sessionID string, limit int) ([]model.Message, error) {
	const query = `
		SELECT m.session_id, m.role, m.content, m.citations_json, m.ctime
		FROM conversation_messages m
		JOIN conversation_sessions s ON s.session_id = m.session_id
		WHERE m.session_id = $1 AND s.user_id = $2
		ORDER BY m.id DESC
		LIMIT $3
	`
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID, userID, limit); err != nil {
		return nil, err
	}
	out := make([]model.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = toMessage(ctx, row)
	}
	return out, nil
}

func (r *ConversationRepo) Get(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT session_id, user_id, repo_url, ctime, mtime
		FROM conversation_sessions
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	var msgs []messageRow
	if err := r.db.SelectContext(ctx, &msgs, `
		SELECT session_id, role, content, citations_json, ctime
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY id
	`, sessionID); err != nil {
		return nil, err
	}
	session := toSession(row)
	session.Messages = make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		session.Messages = append(session.Messages, toMessage(ctx, m))
	}
	return session, nil
}

func (r *ConversationRepo) ListSessions(ctx context.Context, userID string, limit, offset int) ([]model.ConversationSession, error) {
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT session_id, user_id, repo_url, ctime, mtime
		FROM conversation_sessions
		WHERE user_id = $1
		ORDER BY mtime DESC, session_id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset); err != nil {
		return nil, err
	}
	out := make([]model.ConversationSession, 0, len(rows))
	for _, row := range rows {
		out = append(out, *toSession(row))
	}
	return out, nil
}

func toSession(row sessionRow) *model.ConversationSession {
	return &model.ConversationSession{
		SessionID: row.SessionID,
		UserID:    row.UserID,
		RepoURL:   row.RepoURL,
		Ctime:     row.Ctime,
		Mtime:     row.Mtime,
	}
}

// toMessage decodes stored citations. A corrupt citations column is logged
// and served as no citations so the rest of the transcript stays readable.
func toMessage(ctx context.Context, row messageRow) model.Message {
	msg := model.Message{Role: row.Role, Content: row.Content, Timestamp: row.Ctime}
	if row.Role == model.RoleAssistant && row.CitationsJSON != "" {
		if err := json.Unmarshal([]byte(row.CitationsJSON), &msg.Citations); err != nil {
			logutil.GetLogger(ctx).Error("decode stored citations failed",
				zap.String("session_id", row.SessionID), zap.Int64("ctime", row.Ctime), zap.Error(err))
			msg.Citations = nil
		}
		if msg.Citations == nil {
			msg.Citations = []model.Citation{}
		}
	}
	return msg
}
