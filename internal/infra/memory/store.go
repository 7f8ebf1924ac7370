package memory

import (
	"context"
	"sort"
	"sync"

	"quizhub/internal/app"
	"quizhub/internal/domain"
	"quizhub/internal/versioning"
)

// Store is an in-memory implementation of app.Store. Transactions are serialized
// by a single mutex and work on a copy of the tables that replaces the live one
// on commit.
type Store struct {
	mu     sync.Mutex
	tables tables
}

type tables struct {
	quizzes  map[string]domain.Quiz
	history  map[string][]domain.HistoryEntry
	attempts map[string]domain.Attempt
	answers  map[string][]domain.Answer
}

func NewStore() *Store {
	return &Store{tables: tables{
		quizzes:  make(map[string]domain.Quiz),
		history:  make(map[string][]domain.HistoryEntry),
		attempts: make(map[string]domain.Attempt),
		answers:  make(map[string][]domain.Answer),
	}}
}

func (s *Store) InTx(ctx context.Context, fn func(tx app.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.tables.clone()
	if err := fn(&storeTx{t: &work}); err != nil {
		return err
	}
	s.tables = work
	return nil
}

// LoadSnapshot serves snapshot caches outside of any transaction.
func (s *Store) LoadSnapshot(_ context.Context, quizID string, version int) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := findHistory(s.tables.history[quizID], version)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return entry.Snapshot, nil
}

// clone copies the maps; stored values are never mutated in place.
func (t tables) clone() tables {
	out := tables{
		quizzes:  make(map[string]domain.Quiz, len(t.quizzes)),
		history:  make(map[string][]domain.HistoryEntry, len(t.history)),
		attempts: make(map[string]domain.Attempt, len(t.attempts)),
		answers:  make(map[string][]domain.Answer, len(t.answers)),
	}
	for k, v := range t.quizzes {
		out.quizzes[k] = v
	}
	for k, v := range t.history {
		out.history[k] = v[:len(v):len(v)]
	}
	for k, v := range t.attempts {
		out.attempts[k] = v
	}
	for k, v := range t.answers {
		out.answers[k] = v
	}
	return out
}

type storeTx struct {
	t *tables
}

func (tx *storeTx) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := tx.t.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return copyQuiz(quiz), nil
}

// GetQuizForUpdate needs no lock; transactions already run one at a time.
func (tx *storeTx) GetQuizForUpdate(ctx context.Context, quizID string) (domain.Quiz, error) {
	return tx.GetQuiz(ctx, quizID)
}

func (tx *storeTx) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	if _, ok := tx.t.quizzes[quiz.ID]; ok {
		return &domain.ValidationError{Field: "id", Reason: "quiz already exists"}
	}
	tx.t.quizzes[quiz.ID] = copyQuiz(quiz)
	return nil
}

func (tx *storeTx) UpdateQuiz(_ context.Context, quiz domain.Quiz, expectedVersion int64) error {
	current, ok := tx.t.quizzes[quiz.ID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	if current.Version != expectedVersion {
		return &domain.ConflictError{CurrentVersion: current.Version}
	}
	tx.t.quizzes[quiz.ID] = copyQuiz(quiz)
	return nil
}

func (tx *storeTx) LatestVersion(_ context.Context, quizID string) (int, error) {
	entries := tx.t.history[quizID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Version, nil
}

func (tx *storeTx) AppendHistory(_ context.Context, entry domain.HistoryEntry) error {
	entries := tx.t.history[entry.QuizID]
	if len(entries) > 0 && entries[len(entries)-1].Version >= entry.Version {
		return &domain.ConflictError{CurrentVersion: int64(entries[len(entries)-1].Version)}
	}
	tx.t.history[entry.QuizID] = append(entries, entry)
	return nil
}

func (tx *storeTx) GetHistory(_ context.Context, quizID string, version int) (domain.HistoryEntry, error) {
	return findHistory(tx.t.history[quizID], version)
}

func (tx *storeTx) ListHistory(_ context.Context, quizID string) ([]domain.HistoryEntry, error) {
	entries := tx.t.history[quizID]
	return append([]domain.HistoryEntry(nil), entries...), nil
}

func (tx *storeTx) LockAttemptBucket(context.Context, string, domain.AttemptBucket) error {
	return nil
}

func (tx *storeTx) FindInProgressAttempt(_ context.Context, quizID, identityKey string) (domain.Attempt, bool, error) {
	for _, a := range tx.t.attempts {
		if a.QuizID == quizID && !a.Completed() && a.Identity.Key() == identityKey {
			return a, true, nil
		}
	}
	return domain.Attempt{}, false, nil
}

func (tx *storeTx) CountAttempts(_ context.Context, quizID string, bucket domain.AttemptBucket) (int, error) {
	n := 0
	for _, a := range tx.t.attempts {
		if a.QuizID == quizID && bucket.Counts(a.Identity) {
			n++
		}
	}
	return n, nil
}

func (tx *storeTx) CreateAttempt(ctx context.Context, attempt domain.Attempt) error {
	if _, ok, _ := tx.FindInProgressAttempt(ctx, attempt.QuizID, attempt.Identity.Key()); ok {
		return domain.ErrDuplicateAttempt
	}
	tx.t.attempts[attempt.ID] = attempt
	return nil
}

func (tx *storeTx) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	a, ok := tx.t.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return a, nil
}

func (tx *storeTx) CompleteAttempt(_ context.Context, attempt domain.Attempt, answers []domain.Answer) error {
	current, ok := tx.t.attempts[attempt.ID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if current.Completed() {
		return domain.ErrAttemptCompleted
	}
	tx.t.attempts[attempt.ID] = attempt
	tx.t.answers[attempt.ID] = append([]domain.Answer(nil), answers...)
	return nil
}

func (tx *storeTx) ListAnswers(_ context.Context, attemptID string) ([]domain.Answer, error) {
	return append([]domain.Answer(nil), tx.t.answers[attemptID]...), nil
}

func findHistory(entries []domain.HistoryEntry, version int) (domain.HistoryEntry, error) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Version >= version })
	if i < len(entries) && entries[i].Version == version {
		return entries[i], nil
	}
	return domain.HistoryEntry{}, domain.ErrVersionNotFound
}

func copyQuiz(q domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Data = versioning.CloneData(question.Data)
		questions[i] = question
	}
	q.Questions = questions
	q.Access.AllowedIPs = append([]string(nil), q.Access.AllowedIPs...)
	q.References.TagIDs = append([]string(nil), q.References.TagIDs...)
	return q
}
