package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"quizhub/internal/domain"
)

const attemptColumns = `id, quiz_id, identity, quiz_version, started_at, completed_at,
	score, max_score, percentage, passed, elapsed_seconds`

func (t *storeTx) FindInProgressAttempt(ctx context.Context, quizID, identityKey string) (domain.Attempt, bool, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+attemptColumns+`
		FROM attempts WHERE quiz_id = $1 AND identity_key = $2 AND completed_at IS NULL`, quizID, identityKey)
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, false, nil
	}
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return attempt, true, nil
}

func (t *storeTx) CountAttempts(ctx context.Context, quizID string, bucket domain.AttemptBucket) (int, error) {
	var where string
	switch bucket.Kind {
	case domain.BucketUser:
		where = `user_id = $2`
	case domain.BucketEmail:
		where = `user_id = '' AND email = $2`
	case domain.BucketIP:
		where = `user_id = '' AND ip = $2`
	case domain.BucketSession:
		where = `user_id = '' AND identity->>'sessionId' = $2`
	default:
		return 0, fmt.Errorf("unknown attempt bucket %q", bucket.Kind)
	}
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM attempts WHERE quiz_id = $1 AND `+where, quizID, bucket.Value).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// LockAttemptBucket takes a transaction-scoped advisory lock keyed by quiz and
// bucket. Sessions sharing an email or IP have distinct identity keys, so the
// partial unique index alone does not serialize their limit checks.
func (t *storeTx) LockAttemptBucket(ctx context.Context, quizID string, bucket domain.AttemptBucket) error {
	key := quizID + "|" + string(bucket.Kind) + ":" + bucket.Value
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock attempt bucket: %w", err)
	}
	return nil
}

func (t *storeTx) CreateAttempt(ctx context.Context, attempt domain.Attempt) error {
	identity, err := json.Marshal(attempt.Identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO attempts (id, quiz_id, identity_key, user_id, email, ip, identity, quiz_version, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		attempt.ID, attempt.QuizID, attempt.Identity.Key(), attempt.Identity.UserID, attempt.Identity.Email,
		attempt.Identity.IP, string(identity), attempt.QuizVersion, attempt.StartedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateAttempt
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (t *storeTx) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, attemptID)
	attempt, err := scanAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, err
}

func (t *storeTx) CompleteAttempt(ctx context.Context, attempt domain.Attempt, answers []domain.Answer) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE attempts
		SET completed_at = $2, score = $3, max_score = $4, percentage = $5, passed = $6, elapsed_seconds = $7
		WHERE id = $1 AND completed_at IS NULL`,
		attempt.ID, attempt.CompletedAt, attempt.Score, attempt.MaxScore, attempt.Percentage, attempt.Passed, attempt.ElapsedSeconds)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAttemptCompleted
	}
	if len(answers) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range answers {
		payload := string(a.Payload)
		if len(a.Payload) == 0 {
			payload = "null"
		}
		batch.Queue(`
			INSERT INTO answers (id, attempt_id, question_id, payload, correct, points, pending, time_taken_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, attempt.ID, a.QuestionID, payload, a.Correct, a.Points, a.Pending, a.TimeTakenSeconds)
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for range answers {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
	}
	return nil
}

func (t *storeTx) ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, attempt_id, question_id, payload, correct, points, pending, time_taken_seconds
		FROM answers WHERE attempt_id = $1 ORDER BY seq`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var (
			a   domain.Answer
			raw []byte
		)
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &raw, &a.Correct, &a.Points, &a.Pending, &a.TimeTakenSeconds); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Payload = json.RawMessage(raw)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a        domain.Attempt
		identity []byte
	)
	err := row.Scan(&a.ID, &a.QuizID, &identity, &a.QuizVersion, &a.StartedAt, &a.CompletedAt,
		&a.Score, &a.MaxScore, &a.Percentage, &a.Passed, &a.ElapsedSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan attempt: %w", err)
	}
	if err := json.Unmarshal(identity, &a.Identity); err != nil {
		return a, fmt.Errorf("unmarshal identity: %w", err)
	}
	return a, nil
}
