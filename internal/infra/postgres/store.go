package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizhub/internal/app"
	"quizhub/internal/domain"
)

const uniqueViolation = "23505"

// Store implements app.Store on Postgres. Draft bodies, questions and snapshots
// are JSONB; everything queried by the services is a column.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx app.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&storeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadSnapshot serves snapshot caches outside of any transaction.
func (s *Store) LoadSnapshot(ctx context.Context, quizID string, version int) (domain.Snapshot, error) {
	entry, err := getHistory(ctx, s.pool, quizID, version)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return entry.Snapshot, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type storeTx struct {
	tx pgx.Tx
}

// quizBody is the JSONB part of a draft. The access code hash has its own column.
type quizBody struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Settings    domain.Settings   `json:"settings"`
	Access      domain.Access     `json:"access"`
	Schedule    domain.Schedule   `json:"schedule"`
	References  domain.References `json:"references"`
}

func (t *storeTx) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return t.getQuiz(ctx, quizID, "")
}

// GetQuizForUpdate row-locks the quiz. A mutation queued behind another one
// re-reads the committed row and fails the version check with the new version.
func (t *storeTx) GetQuizForUpdate(ctx context.Context, quizID string) (domain.Quiz, error) {
	return t.getQuiz(ctx, quizID, " FOR UPDATE")
}

func (t *storeTx) getQuiz(ctx context.Context, quizID, lock string) (domain.Quiz, error) {
	var (
		quiz   domain.Quiz
		status string
		hash   string
		raw    []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, owner_id, status, version, published_version, access_code_hash, body, created_at, updated_at
		FROM quizzes WHERE id = $1`+lock, quizID).
		Scan(&quiz.ID, &quiz.OwnerID, &status, &quiz.Version, &quiz.PublishedVersion, &hash, &raw, &quiz.CreatedAt, &quiz.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	var body quizBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	quiz.Status = domain.QuizStatus(status)
	quiz.Title = body.Title
	quiz.Description = body.Description
	quiz.Settings = body.Settings
	quiz.Access = body.Access
	quiz.Access.AccessCodeHash = hash
	quiz.Schedule = body.Schedule
	quiz.References = body.References

	rows, err := t.tx.Query(ctx, `SELECT body FROM questions WHERE quiz_id = $1 ORDER BY position`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qraw []byte
		if err := rows.Scan(&qraw); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(qraw, &q); err != nil {
			return domain.Quiz{}, fmt.Errorf("unmarshal question: %w", err)
		}
		quiz.Questions = append(quiz.Questions, q)
	}
	return quiz, rows.Err()
}

func (t *storeTx) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	body, err := encodeBody(quiz)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO quizzes (id, owner_id, status, version, published_version, access_code_hash, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		quiz.ID, quiz.OwnerID, string(quiz.Status), quiz.Version, quiz.PublishedVersion, quiz.Access.AccessCodeHash, body, quiz.CreatedAt, quiz.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return t.replaceQuestions(ctx, quiz)
}

func (t *storeTx) UpdateQuiz(ctx context.Context, quiz domain.Quiz, expectedVersion int64) error {
	body, err := encodeBody(quiz)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE quizzes
		SET status = $3, version = $4, published_version = $5, access_code_hash = $6, body = $7, updated_at = $8
		WHERE id = $1 AND version = $2`,
		quiz.ID, expectedVersion, string(quiz.Status), quiz.Version, quiz.PublishedVersion, quiz.Access.AccessCodeHash, body, quiz.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return t.currentVersionConflict(ctx, quiz.ID)
	}
	return t.replaceQuestions(ctx, quiz)
}

func (t *storeTx) replaceQuestions(ctx context.Context, quiz domain.Quiz) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM questions WHERE quiz_id = $1`, quiz.ID)
	for _, q := range quiz.Questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question: %w", err)
		}
		batch.Queue(`INSERT INTO questions (quiz_id, id, position, body) VALUES ($1, $2, $3, $4)`,
			quiz.ID, q.ID, q.Position, string(raw))
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("write questions: %w", err)
		}
	}
	return nil
}

func (t *storeTx) LatestVersion(ctx context.Context, quizID string) (int, error) {
	var latest int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM quiz_history WHERE quiz_id = $1`, quizID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return latest, nil
}

func (t *storeTx) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	raw, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	// The insert runs under a savepoint so a lost race leaves the transaction
	// usable for reading the quiz's current version.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	_, err = sp.Exec(ctx, `
		INSERT INTO quiz_history (quiz_id, version, snapshot, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.QuizID, entry.Version, string(raw), entry.CreatedBy, entry.CreatedAt)
	if isUniqueViolation(err) {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback savepoint: %w", rbErr)
		}
		return t.currentVersionConflict(ctx, entry.QuizID)
	}
	if err != nil {
		_ = sp.Rollback(ctx)
		return fmt.Errorf("insert history: %w", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// currentVersionConflict reports the quiz's version token, not a history number.
func (t *storeTx) currentVersionConflict(ctx context.Context, quizID string) error {
	var current int64
	err := t.tx.QueryRow(ctx, `SELECT version FROM quizzes WHERE id = $1`, quizID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrQuizNotFound
	}
	if err != nil {
		return fmt.Errorf("read quiz version: %w", err)
	}
	return &domain.ConflictError{CurrentVersion: current}
}

func (t *storeTx) GetHistory(ctx context.Context, quizID string, version int) (domain.HistoryEntry, error) {
	return getHistory(ctx, t.tx, quizID, version)
}

func (t *storeTx) ListHistory(ctx context.Context, quizID string) ([]domain.HistoryEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT quiz_id, version, snapshot, created_by, created_at
		FROM quiz_history WHERE quiz_id = $1 ORDER BY version`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func getHistory(ctx context.Context, q querier, quizID string, version int) (domain.HistoryEntry, error) {
	row := q.QueryRow(ctx, `
		SELECT quiz_id, version, snapshot, created_by, created_at
		FROM quiz_history WHERE quiz_id = $1 AND version = $2`, quizID, version)
	entry, err := scanHistory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HistoryEntry{}, domain.ErrVersionNotFound
	}
	return entry, err
}

func scanHistory(row pgx.Row) (domain.HistoryEntry, error) {
	var (
		entry domain.HistoryEntry
		raw   []byte
	)
	if err := row.Scan(&entry.QuizID, &entry.Version, &raw, &entry.CreatedBy, &entry.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("scan history: %w", err)
	}
	if err := json.Unmarshal(raw, &entry.Snapshot); err != nil {
		return entry, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return entry, nil
}

func encodeBody(quiz domain.Quiz) (string, error) {
	raw, err := json.Marshal(quizBody{
		Title:       quiz.Title,
		Description: quiz.Description,
		Settings:    quiz.Settings,
		Access:      quiz.Access,
		Schedule:    quiz.Schedule,
		References:  quiz.References,
	})
	if err != nil {
		return "", fmt.Errorf("marshal quiz: %w", err)
	}
	return string(raw), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
