package app

import (
	"context"

	"quizhub/internal/domain"
)

// Store runs every mutating operation inside one atomic transaction.
type Store interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transaction-scoped view of the backing store. Reads observe the
// transaction's own writes.
type Tx interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// GetQuizForUpdate is GetQuiz holding the quiz locked until the transaction
	// ends, so concurrent draft mutations queue behind each other.
	GetQuizForUpdate(ctx context.Context, quizID string) (domain.Quiz, error)
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	// UpdateQuiz persists quiz with its questions when the stored version still
	// equals expectedVersion; otherwise it returns a *domain.ConflictError.
	UpdateQuiz(ctx context.Context, quiz domain.Quiz, expectedVersion int64) error

	LatestVersion(ctx context.Context, quizID string) (int, error)
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
	GetHistory(ctx context.Context, quizID string, version int) (domain.HistoryEntry, error)
	ListHistory(ctx context.Context, quizID string) ([]domain.HistoryEntry, error)

	// LockAttemptBucket serializes starts that share a quiz and limit bucket until
	// the transaction ends.
	LockAttemptBucket(ctx context.Context, quizID string, bucket domain.AttemptBucket) error
	FindInProgressAttempt(ctx context.Context, quizID, identityKey string) (domain.Attempt, bool, error)
	CountAttempts(ctx context.Context, quizID string, bucket domain.AttemptBucket) (int, error)
	// CreateAttempt returns domain.ErrDuplicateAttempt when an in-progress attempt
	// already exists for the same quiz and identity key.
	CreateAttempt(ctx context.Context, attempt domain.Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	// CompleteAttempt returns domain.ErrAttemptCompleted when the attempt was finished concurrently.
	CompleteAttempt(ctx context.Context, attempt domain.Attempt, answers []domain.Answer) error
	ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error)
}

// SnapshotSource reads frozen quiz versions (from cache/backing store).
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, quizID string, version int) (domain.Snapshot, error)
}

// UserDirectory is the identity collaborator.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// ReferenceChecker validates foreign references owned by the course/category/tag collaborators.
type ReferenceChecker interface {
	CategoryExists(ctx context.Context, id string) (bool, error)
	CourseExists(ctx context.Context, id string) (bool, error)
	TagExists(ctx context.Context, id string) (bool, error)
}
