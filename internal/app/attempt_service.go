package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quizhub/internal/access"
	"quizhub/internal/domain"
	"quizhub/internal/scoring"
	"quizhub/internal/versioning"
)

// DefaultAnonymousCeiling caps attempts per IP for anonymous actors without an email.
const DefaultAnonymousCeiling = 10

// AttemptConfig holds the attempt limits injected at construction.
type AttemptConfig struct {
	AnonymousCeiling int
}

// AccessGuard evaluates availability and restrictions before an attempt starts.
type AccessGuard interface {
	CheckWindow(schedule domain.Schedule) error
	CheckAccess(cfg domain.Access, req access.Request) error
}

// AttemptService runs the NotStarted -> InProgress -> Completed lifecycle of attempts.
type AttemptService struct {
	store     Store
	snapshots SnapshotSource
	guard     AccessGuard
	cfg       AttemptConfig
	now       func() time.Time
}

func NewAttemptService(store Store, snapshots SnapshotSource, guard AccessGuard, cfg AttemptConfig) *AttemptService {
	return NewAttemptServiceWithClock(store, snapshots, guard, cfg, time.Now)
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(store Store, snapshots SnapshotSource, guard AccessGuard, cfg AttemptConfig, now func() time.Time) *AttemptService {
	if cfg.AnonymousCeiling <= 0 {
		cfg.AnonymousCeiling = DefaultAnonymousCeiling
	}
	return &AttemptService{store: store, snapshots: snapshots, guard: guard, cfg: cfg, now: now}
}

// StartRequest identifies the quiz, the actor and the optional access code.
type StartRequest struct {
	QuizID     string
	Identity   domain.Identity
	AccessCode string
}

// SubmittedAnswer is one answer in a submission.
type SubmittedAnswer struct {
	QuestionID       string
	Answer           json.RawMessage
	TimeTakenSeconds *int
}

// StartAttempt resumes the actor's in-progress attempt or creates one frozen on
// the currently published version.
func (s *AttemptService) StartAttempt(ctx context.Context, req StartRequest) (AttemptHandle, error) {
	identity := req.Identity.Normalize()
	if identity.Key() == "" {
		return AttemptHandle{}, &domain.ValidationError{Field: "identity", Reason: "needs a user id, session id or ip address"}
	}

	var handle AttemptHandle
	created := false
	err := s.store.InTx(ctx, func(tx Tx) error {
		quiz, err := tx.GetQuiz(ctx, req.QuizID)
		if err != nil {
			return err
		}
		if quiz.Status != domain.StatusPublished || quiz.PublishedVersion == nil {
			return &domain.NotAvailableError{Status: domain.AvailabilityUnpublished}
		}
		version := *quiz.PublishedVersion
		entry, err := tx.GetHistory(ctx, quiz.ID, version)
		if err != nil {
			return err
		}
		snap := entry.Snapshot

		if err := s.guard.CheckWindow(snap.Schedule); err != nil {
			return err
		}
		if identity.Anonymous() && !snap.Settings.AllowAnonymous {
			return domain.ErrAnonymousDenied
		}
		restrictions := snap.Access
		restrictions.AccessCodeHash = quiz.Access.AccessCodeHash
		if err := s.guard.CheckAccess(restrictions, access.Request{IP: identity.IP, AccessCode: req.AccessCode}); err != nil {
			return err
		}

		// Taken before the lookup so a start queued behind a concurrent one sees
		// its attempt and resumes it instead of counting it against the limit.
		if err := tx.LockAttemptBucket(ctx, quiz.ID, identity.Bucket()); err != nil {
			return err
		}
		existing, ok, err := tx.FindInProgressAttempt(ctx, quiz.ID, identity.Key())
		if err != nil {
			return err
		}
		if ok {
			handle = newHandle(existing, snap.Title, s.now())
			return nil
		}

		if err := s.checkLimit(ctx, tx, quiz.ID, snap.Settings, identity); err != nil {
			return err
		}
		attempt := domain.Attempt{
			ID:          uuid.NewString(),
			QuizID:      quiz.ID,
			Identity:    identity,
			QuizVersion: &version,
			StartedAt:   s.now(),
		}
		if err := tx.CreateAttempt(ctx, attempt); err != nil {
			return err
		}
		created = true
		handle = newHandle(attempt, snap.Title, s.now())
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateAttempt) {
		// A concurrent start for the same identity won; converge on its attempt.
		return s.inProgressHandle(ctx, req.QuizID, identity)
	}
	if err != nil {
		return AttemptHandle{}, err
	}
	if created {
		log.Info().Str("quizId", req.QuizID).Str("attemptId", handle.ID).Bool("anonymous", identity.Anonymous()).Msg("attempt started")
	}
	return handle, nil
}

func (s *AttemptService) inProgressHandle(ctx context.Context, quizID string, identity domain.Identity) (AttemptHandle, error) {
	var handle AttemptHandle
	err := s.store.InTx(ctx, func(tx Tx) error {
		attempt, ok, err := tx.FindInProgressAttempt(ctx, quizID, identity.Key())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAttemptNotFound
		}
		content, err := contentInTx(ctx, tx, attempt)
		if err != nil {
			return err
		}
		handle = newHandle(attempt, content.Title, s.now())
		return nil
	})
	return handle, err
}

// checkLimit counts prior attempts by user id, else email, else IP, else session.
// The IP and session buckets are also capped by the anonymous ceiling.
func (s *AttemptService) checkLimit(ctx context.Context, tx Tx, quizID string, settings domain.Settings, identity domain.Identity) error {
	bucket := identity.Bucket()
	limit := 0
	if settings.MaxAttempts != nil {
		limit = *settings.MaxAttempts
	}
	anonymous := bucket.Kind == domain.BucketIP || bucket.Kind == domain.BucketSession
	if anonymous && (limit == 0 || s.cfg.AnonymousCeiling < limit) {
		limit = s.cfg.AnonymousCeiling
	}
	if limit <= 0 {
		return nil
	}
	used, err := tx.CountAttempts(ctx, quizID, bucket)
	if err != nil {
		return err
	}
	if used >= limit {
		return &domain.LimitError{Limit: limit, Used: used}
	}
	return nil
}

// SubmitAnswers grades the answers against the attempt's frozen version and
// completes it. Submitting a completed attempt returns its stored result.
func (s *AttemptService) SubmitAnswers(ctx context.Context, attemptID string, identity domain.Identity, answers []SubmittedAnswer) (AttemptResult, error) {
	identity = identity.Normalize()

	var (
		attempt  domain.Attempt
		content  domain.Snapshot
		rows     []domain.Answer
		finished bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		attempt, err = ownedAttempt(ctx, tx, attemptID, identity)
		if err != nil {
			return err
		}
		content, err = contentInTx(ctx, tx, attempt)
		if err != nil {
			return err
		}
		if attempt.Completed() {
			rows, err = tx.ListAnswers(ctx, attempt.ID)
			return err
		}

		earned, possible := 0, 0
		seen := make(map[string]struct{}, len(answers))
		rows = make([]domain.Answer, 0, len(answers))
		for _, in := range answers {
			question, ok := content.QuestionByID(in.QuestionID)
			if !ok {
				log.Debug().Str("attemptId", attempt.ID).Str("questionId", in.QuestionID).Msg("skipping answer for unknown question")
				continue
			}
			if _, dup := seen[question.ID]; dup {
				continue
			}
			seen[question.ID] = struct{}{}

			outcome := scoring.Score(question, in.Answer)
			earned += outcome.Points
			possible += outcome.MaxPoints
			rows = append(rows, domain.Answer{
				ID:               uuid.NewString(),
				AttemptID:        attempt.ID,
				QuestionID:       question.ID,
				Payload:          in.Answer,
				Correct:          outcome.Correct,
				Points:           outcome.Points,
				Pending:          outcome.Pending,
				TimeTakenSeconds: in.TimeTakenSeconds,
			})
		}

		now := s.now()
		elapsed := int(now.Sub(attempt.StartedAt) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		attempt.CompletedAt = &now
		attempt.ElapsedSeconds = elapsed
		attempt.Score = earned
		attempt.MaxScore = possible
		attempt.Percentage = scoring.Percentage(earned, possible)
		attempt.Passed = scoring.Passed(attempt.Percentage, content.Settings.PassingScore)
		if err := tx.CompleteAttempt(ctx, attempt, rows); err != nil {
			return err
		}
		finished = true
		return nil
	})
	if errors.Is(err, domain.ErrAttemptCompleted) {
		// A concurrent submit finished first; its stored result is authoritative.
		return s.GetResult(ctx, attemptID, identity)
	}
	if err != nil {
		return AttemptResult{}, err
	}
	if finished {
		log.Info().Str("attemptId", attempt.ID).Int("score", attempt.Score).Int("maxScore", attempt.MaxScore).Bool("passed", attempt.Passed).Msg("attempt completed")
	}
	return buildResult(attempt, content, rows, s.now()), nil
}

// GetResult returns the graded attempt. Before resultsVisibleFrom it returns a
// redacted result that only tells when results unlock.
func (s *AttemptService) GetResult(ctx context.Context, attemptID string, identity domain.Identity) (AttemptResult, error) {
	identity = identity.Normalize()

	var (
		attempt domain.Attempt
		rows    []domain.Answer
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		attempt, err = ownedAttempt(ctx, tx, attemptID, identity)
		if err != nil {
			return err
		}
		if !attempt.Completed() {
			return domain.ErrAttemptInProgress
		}
		rows, err = tx.ListAnswers(ctx, attempt.ID)
		return err
	})
	if err != nil {
		return AttemptResult{}, err
	}
	content, err := s.content(ctx, attempt)
	if err != nil {
		return AttemptResult{}, err
	}
	return buildResult(attempt, content, rows, s.now()), nil
}

// GetAttempt returns the attempt handle.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID string, identity domain.Identity) (AttemptHandle, error) {
	attempt, err := s.attempt(ctx, attemptID, identity.Normalize())
	if err != nil {
		return AttemptHandle{}, err
	}
	content, err := s.content(ctx, attempt)
	if err != nil {
		return AttemptHandle{}, err
	}
	return newHandle(attempt, content.Title, s.now()), nil
}

// GetAttemptContent serves the taker view of the attempt's frozen version.
func (s *AttemptService) GetAttemptContent(ctx context.Context, attemptID string, identity domain.Identity) (AttemptContent, error) {
	attempt, err := s.attempt(ctx, attemptID, identity.Normalize())
	if err != nil {
		return AttemptContent{}, err
	}
	content, err := s.content(ctx, attempt)
	if err != nil {
		return AttemptContent{}, err
	}
	return newAttemptContent(attempt, content), nil
}

func (s *AttemptService) attempt(ctx context.Context, attemptID string, identity domain.Identity) (domain.Attempt, error) {
	var attempt domain.Attempt
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		attempt, err = ownedAttempt(ctx, tx, attemptID, identity)
		return err
	})
	return attempt, err
}

// content reads the frozen version through the snapshot source; legacy attempts
// without a version fall back to the live quiz.
func (s *AttemptService) content(ctx context.Context, attempt domain.Attempt) (domain.Snapshot, error) {
	if attempt.QuizVersion != nil {
		return s.snapshots.GetSnapshot(ctx, attempt.QuizID, *attempt.QuizVersion)
	}
	var content domain.Snapshot
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		content, err = contentInTx(ctx, tx, attempt)
		return err
	})
	return content, err
}

func contentInTx(ctx context.Context, tx Tx, attempt domain.Attempt) (domain.Snapshot, error) {
	if attempt.QuizVersion != nil {
		entry, err := tx.GetHistory(ctx, attempt.QuizID, *attempt.QuizVersion)
		if err != nil {
			return domain.Snapshot{}, err
		}
		return entry.Snapshot, nil
	}
	quiz, err := tx.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return versioning.Snapshot(quiz), nil
}

// ownedAttempt reports attempts of other identities as missing.
func ownedAttempt(ctx context.Context, tx Tx, attemptID string, identity domain.Identity) (domain.Attempt, error) {
	attempt, err := tx.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !attempt.Identity.Matches(identity) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}
