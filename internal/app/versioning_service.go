package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quizhub/internal/access"
	"quizhub/internal/domain"
	"quizhub/internal/versioning"
)

// VersioningService owns draft edits, the history log and the publish pointer.
type VersioningService struct {
	store  Store
	users  UserDirectory
	refs   ReferenceChecker
	hasher access.Hasher
	now    func() time.Time
}

func NewVersioningService(store Store, users UserDirectory, refs ReferenceChecker, hasher access.Hasher) *VersioningService {
	return NewVersioningServiceWithClock(store, users, refs, hasher, time.Now)
}

// NewVersioningServiceWithClock is test-only for deterministic timestamps.
func NewVersioningServiceWithClock(store Store, users UserDirectory, refs ReferenceChecker, hasher access.Hasher, now func() time.Time) *VersioningService {
	return &VersioningService{store: store, users: users, refs: refs, hasher: hasher, now: now}
}

// QuizInput describes a new draft.
type QuizInput struct {
	Title        string
	Description  string
	Settings     domain.Settings
	AccessCode   string
	IPRestricted bool
	AllowedIPs   []string
	Schedule     domain.Schedule
	References   domain.References
}

// QuizPatch changes only the non-nil fields of a draft.
type QuizPatch struct {
	Title       *string
	Description *string
	Settings    *domain.Settings
	Schedule    *domain.Schedule
	References  *domain.References
	// RequireAccessCode toggles the code check; AccessCode replaces the stored hash.
	RequireAccessCode *bool
	AccessCode        *string
	IPRestricted      *bool
	AllowedIPs        []string
}

// QuestionInput is a question as submitted by a creator; Data is validated against Type.
type QuestionInput struct {
	Type        domain.QuestionType
	Text        string
	Explanation string
	Points      int
	Data        json.RawMessage
	// Position inserts the question at that index; nil appends.
	Position *int
}

// CreateQuiz stores a new draft owned by actorID.
func (s *VersioningService) CreateQuiz(ctx context.Context, actorID string, in QuizInput) (domain.Quiz, error) {
	if err := s.requireUser(ctx, actorID); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.checkReferences(ctx, in.References); err != nil {
		return domain.Quiz{}, err
	}

	now := s.now()
	quiz := domain.Quiz{
		ID:          uuid.NewString(),
		OwnerID:     actorID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Settings:    in.Settings,
		Access: domain.Access{
			IPRestricted: in.IPRestricted,
			AllowedIPs:   in.AllowedIPs,
		},
		Schedule:   in.Schedule,
		References: in.References,
		Status:     domain.StatusDraft,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if code := strings.TrimSpace(in.AccessCode); code != "" {
		hash, err := s.hasher.Hash(code)
		if err != nil {
			return domain.Quiz{}, err
		}
		quiz.Access.AccessCodeRequired = true
		quiz.Access.AccessCodeHash = hash
	}
	if err := validateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.CreateQuiz(ctx, quiz)
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	log.Info().Str("quizId", quiz.ID).Str("ownerId", actorID).Msg("quiz created")
	return quiz, nil
}

// GetQuiz returns the draft to its owner.
func (s *VersioningService) GetQuiz(ctx context.Context, quizID, actorID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		quiz, err = ownedQuiz(ctx, tx, quizID, actorID)
		return err
	})
	return quiz, err
}

// UpdateQuiz applies patch to the draft read at expectedVersion.
func (s *VersioningService) UpdateQuiz(ctx context.Context, quizID, actorID string, expectedVersion int64, patch QuizPatch) (domain.Quiz, error) {
	if patch.References != nil {
		if err := s.checkReferences(ctx, *patch.References); err != nil {
			return domain.Quiz{}, err
		}
	}
	var hash string
	if patch.AccessCode != nil && strings.TrimSpace(*patch.AccessCode) != "" {
		var err error
		if hash, err = s.hasher.Hash(strings.TrimSpace(*patch.AccessCode)); err != nil {
			return domain.Quiz{}, err
		}
	}

	return s.mutateDraft(ctx, quizID, actorID, expectedVersion, func(_ Tx, draft *domain.Quiz) error {
		if patch.Title != nil {
			draft.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			draft.Description = *patch.Description
		}
		if patch.Settings != nil {
			draft.Settings = *patch.Settings
		}
		if patch.Schedule != nil {
			draft.Schedule = *patch.Schedule
		}
		if patch.References != nil {
			draft.References = *patch.References
		}
		if patch.AccessCode != nil {
			draft.Access.AccessCodeHash = hash
			draft.Access.AccessCodeRequired = hash != ""
		}
		if patch.RequireAccessCode != nil {
			draft.Access.AccessCodeRequired = *patch.RequireAccessCode
		}
		if patch.IPRestricted != nil {
			draft.Access.IPRestricted = *patch.IPRestricted
		}
		if patch.AllowedIPs != nil {
			draft.Access.AllowedIPs = patch.AllowedIPs
		}
		return nil
	})
}

// AddQuestion inserts a question into the draft.
func (s *VersioningService) AddQuestion(ctx context.Context, quizID, actorID string, expectedVersion int64, in QuestionInput) (domain.Quiz, error) {
	question, err := buildQuestion(uuid.NewString(), in)
	if err != nil {
		return domain.Quiz{}, err
	}
	return s.mutateDraft(ctx, quizID, actorID, expectedVersion, func(_ Tx, draft *domain.Quiz) error {
		at := len(draft.Questions)
		if in.Position != nil && *in.Position >= 0 && *in.Position < at {
			at = *in.Position
		}
		draft.Questions = append(draft.Questions, domain.Question{})
		copy(draft.Questions[at+1:], draft.Questions[at:])
		draft.Questions[at] = question
		return nil
	})
}

// UpdateQuestion replaces a question's content, keeping its id and position.
func (s *VersioningService) UpdateQuestion(ctx context.Context, quizID, questionID, actorID string, expectedVersion int64, in QuestionInput) (domain.Quiz, error) {
	question, err := buildQuestion(questionID, in)
	if err != nil {
		return domain.Quiz{}, err
	}
	return s.mutateDraft(ctx, quizID, actorID, expectedVersion, func(_ Tx, draft *domain.Quiz) error {
		for i := range draft.Questions {
			if draft.Questions[i].ID == questionID {
				question.Position = draft.Questions[i].Position
				draft.Questions[i] = question
				return nil
			}
		}
		return domain.ErrQuestionNotFound
	})
}

// RemoveQuestion deletes a question and closes the gap in positions.
func (s *VersioningService) RemoveQuestion(ctx context.Context, quizID, questionID, actorID string, expectedVersion int64) (domain.Quiz, error) {
	return s.mutateDraft(ctx, quizID, actorID, expectedVersion, func(_ Tx, draft *domain.Quiz) error {
		for i := range draft.Questions {
			if draft.Questions[i].ID == questionID {
				draft.Questions = append(draft.Questions[:i], draft.Questions[i+1:]...)
				return nil
			}
		}
		return domain.ErrQuestionNotFound
	})
}

// ReorderQuestions sets the question order; order must list every question id once.
func (s *VersioningService) ReorderQuestions(ctx context.Context, quizID, actorID string, expectedVersion int64, order []string) (domain.Quiz, error) {
	return s.mutateDraft(ctx, quizID, actorID, expectedVersion, func(_ Tx, draft *domain.Quiz) error {
		if len(order) != len(draft.Questions) {
			return &domain.ValidationError{Field: "order", Reason: "must list every question exactly once"}
		}
		byID := make(map[string]domain.Question, len(draft.Questions))
		for _, q := range draft.Questions {
			byID[q.ID] = q
		}
		reordered := make([]domain.Question, 0, len(order))
		for _, id := range order {
			q, ok := byID[id]
			if !ok {
				return &domain.ValidationError{Field: "order", Reason: "unknown or repeated question " + id}
			}
			delete(byID, id)
			reordered = append(reordered, q)
		}
		draft.Questions = reordered
		return nil
	})
}

// RestoreVersion copies a history version back into the draft.
func (s *VersioningService) RestoreVersion(ctx context.Context, quizID, actorID string, expectedVersion int64, version int) (domain.Quiz, error) {
	return s.mutateDraft(ctx, quizID, actorID, expectedVersion, func(tx Tx, draft *domain.Quiz) error {
		entry, err := tx.GetHistory(ctx, quizID, version)
		if err != nil {
			return err
		}
		*draft = versioning.Restore(*draft, entry.Snapshot)
		return nil
	})
}

// SaveHistory records the current draft as a new history version.
func (s *VersioningService) SaveHistory(ctx context.Context, quizID, actorID string) (int, error) {
	var version int
	err := s.store.InTx(ctx, func(tx Tx) error {
		quiz, err := ownedQuizForUpdate(ctx, tx, quizID, actorID)
		if err != nil {
			return err
		}
		version, err = s.saveHistory(ctx, tx, quiz, actorID)
		return err
	})
	return version, err
}

// Publish snapshots the draft and points takers at the new version.
func (s *VersioningService) Publish(ctx context.Context, quizID, actorID string) (int, error) {
	return s.publish(ctx, quizID, actorID, false)
}

// UpdatePublishedVersion republishes an already published quiz with its current draft.
func (s *VersioningService) UpdatePublishedVersion(ctx context.Context, quizID, actorID string) (int, error) {
	return s.publish(ctx, quizID, actorID, true)
}

func (s *VersioningService) publish(ctx context.Context, quizID, actorID string, republish bool) (int, error) {
	if err := s.requireUser(ctx, actorID); err != nil {
		return 0, err
	}
	var version int
	err := s.store.InTx(ctx, func(tx Tx) error {
		quiz, err := ownedQuizForUpdate(ctx, tx, quizID, actorID)
		if err != nil {
			return err
		}
		if republish && quiz.Status != domain.StatusPublished {
			return &domain.ValidationError{Field: "status", Reason: "quiz is not published"}
		}
		if quiz.Status == domain.StatusArchived {
			return &domain.ValidationError{Field: "status", Reason: "archived quizzes cannot be published"}
		}
		if len(quiz.Questions) == 0 {
			return &domain.ValidationError{Field: "questions", Reason: "cannot publish a quiz without questions"}
		}
		if err := validateQuiz(quiz); err != nil {
			return err
		}

		version, err = s.saveHistory(ctx, tx, quiz, actorID)
		if err != nil {
			return err
		}
		expected := quiz.Version
		quiz.PublishedVersion = &version
		quiz.Status = domain.StatusPublished
		quiz.Version++
		quiz.UpdatedAt = s.now()
		return tx.UpdateQuiz(ctx, quiz, expected)
	})
	if err != nil {
		return 0, err
	}
	log.Info().Str("quizId", quizID).Int("version", version).Bool("republish", republish).Msg("quiz published")
	return version, nil
}

// Unpublish returns the quiz to Draft and keeps the pointer so earlier attempts stay scoreable.
func (s *VersioningService) Unpublish(ctx context.Context, quizID, actorID string) error {
	return s.setStatus(ctx, quizID, actorID, domain.StatusDraft)
}

// Archive retires the quiz; like Unpublish it keeps the pointer.
func (s *VersioningService) Archive(ctx context.Context, quizID, actorID string) error {
	return s.setStatus(ctx, quizID, actorID, domain.StatusArchived)
}

func (s *VersioningService) setStatus(ctx context.Context, quizID, actorID string, status domain.QuizStatus) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		quiz, err := ownedQuizForUpdate(ctx, tx, quizID, actorID)
		if err != nil {
			return err
		}
		if quiz.Status == status {
			return nil
		}
		expected := quiz.Version
		quiz.Status = status
		quiz.Version++
		quiz.UpdatedAt = s.now()
		return tx.UpdateQuiz(ctx, quiz, expected)
	})
	if err != nil {
		return err
	}
	log.Info().Str("quizId", quizID).Str("status", string(status)).Msg("quiz status changed")
	return nil
}

// HasUnpublishedChanges compares the current draft with the snapshot at the publish pointer.
func (s *VersioningService) HasUnpublishedChanges(ctx context.Context, quizID, actorID string) (bool, error) {
	var changed bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		quiz, err := ownedQuiz(ctx, tx, quizID, actorID)
		if err != nil {
			return err
		}
		if quiz.PublishedVersion == nil {
			return nil
		}
		entry, err := tx.GetHistory(ctx, quizID, *quiz.PublishedVersion)
		if err != nil {
			return err
		}
		changed = !versioning.Equal(versioning.Snapshot(quiz), entry.Snapshot)
		return nil
	})
	return changed, err
}

// ListHistory returns every version of the quiz, oldest first.
func (s *VersioningService) ListHistory(ctx context.Context, quizID, actorID string) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := ownedQuiz(ctx, tx, quizID, actorID); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListHistory(ctx, quizID)
		return err
	})
	return entries, err
}

// GetVersion returns one history version.
func (s *VersioningService) GetVersion(ctx context.Context, quizID, actorID string, version int) (domain.HistoryEntry, error) {
	var entry domain.HistoryEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := ownedQuiz(ctx, tx, quizID, actorID); err != nil {
			return err
		}
		var err error
		entry, err = tx.GetHistory(ctx, quizID, version)
		return err
	})
	return entry, err
}

// mutateDraft checks the version token, records the prior state, applies fn and
// persists the result with a bumped version, all in one transaction.
func (s *VersioningService) mutateDraft(ctx context.Context, quizID, actorID string, expectedVersion int64, fn func(tx Tx, draft *domain.Quiz) error) (domain.Quiz, error) {
	var out domain.Quiz
	err := s.store.InTx(ctx, func(tx Tx) error {
		quiz, err := ownedQuizForUpdate(ctx, tx, quizID, actorID)
		if err != nil {
			return err
		}
		if quiz.Version != expectedVersion {
			return &domain.ConflictError{CurrentVersion: quiz.Version}
		}
		if _, err := s.saveHistory(ctx, tx, quiz, actorID); err != nil {
			return err
		}

		draft := quiz
		draft.Questions = append([]domain.Question(nil), quiz.Questions...)
		if err := fn(tx, &draft); err != nil {
			return err
		}
		for i := range draft.Questions {
			draft.Questions[i].Position = i
		}
		if err := validateQuiz(draft); err != nil {
			return err
		}
		draft.Version = expectedVersion + 1
		draft.UpdatedAt = s.now()
		if err := tx.UpdateQuiz(ctx, draft, expectedVersion); err != nil {
			return err
		}
		out = draft
		return nil
	})
	return out, err
}

// saveHistory appends the quiz's current state as version max+1.
func (s *VersioningService) saveHistory(ctx context.Context, tx Tx, quiz domain.Quiz, actorID string) (int, error) {
	latest, err := tx.LatestVersion(ctx, quiz.ID)
	if err != nil {
		return 0, err
	}
	entry := domain.HistoryEntry{
		QuizID:    quiz.ID,
		Version:   latest + 1,
		Snapshot:  versioning.Snapshot(quiz),
		CreatedBy: actorID,
		CreatedAt: s.now(),
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return 0, err
	}
	return entry.Version, nil
}

func (s *VersioningService) requireUser(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUserNotFound
	}
	ok, err := s.users.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *VersioningService) checkReferences(ctx context.Context, refs domain.References) error {
	check := func(id, field string, exists func(context.Context, string) (bool, error)) error {
		if id == "" {
			return nil
		}
		ok, err := exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ValidationError{Field: field, Reason: "unknown reference " + id}
		}
		return nil
	}
	if err := check(refs.CategoryID, "categoryId", s.refs.CategoryExists); err != nil {
		return err
	}
	if err := check(refs.CourseID, "courseId", s.refs.CourseExists); err != nil {
		return err
	}
	for _, tag := range refs.TagIDs {
		if err := check(tag, "tagIds", s.refs.TagExists); err != nil {
			return err
		}
	}
	return nil
}

// ownedQuiz reports quizzes of other owners as missing.
func ownedQuiz(ctx context.Context, tx Tx, quizID, actorID string) (domain.Quiz, error) {
	quiz, err := tx.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz.OwnerID != actorID {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

// ownedQuizForUpdate is ownedQuiz with the quiz locked for the rest of the transaction.
func ownedQuizForUpdate(ctx context.Context, tx Tx, quizID, actorID string) (domain.Quiz, error) {
	quiz, err := tx.GetQuizForUpdate(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz.OwnerID != actorID {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func buildQuestion(id string, in QuestionInput) (domain.Question, error) {
	data, err := domain.DecodeQuestionData(in.Type, in.Data)
	if err != nil {
		return domain.Question{}, err
	}
	q := domain.Question{
		ID:          id,
		Text:        strings.TrimSpace(in.Text),
		Explanation: in.Explanation,
		Points:      in.Points,
		Data:        data,
	}
	if q.Text == "" {
		return domain.Question{}, &domain.ValidationError{Field: "text", Reason: "is required"}
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func validateQuiz(q domain.Quiz) error {
	if q.Title == "" {
		return &domain.ValidationError{Field: "title", Reason: "is required"}
	}
	sch := q.Schedule
	if sch.AvailableFrom != nil && sch.AvailableUntil != nil && !sch.AvailableFrom.Before(*sch.AvailableUntil) {
		return &domain.ValidationError{Field: "schedule", Reason: "availableFrom must be before availableUntil"}
	}
	set := q.Settings
	if set.PassingScore != nil && (*set.PassingScore < 0 || *set.PassingScore > 100) {
		return &domain.ValidationError{Field: "passingScore", Reason: "must be between 0 and 100"}
	}
	if set.MaxAttempts != nil && *set.MaxAttempts < 1 {
		return &domain.ValidationError{Field: "maxAttempts", Reason: "must be at least 1"}
	}
	if set.TimeLimitSeconds < 0 {
		return &domain.ValidationError{Field: "timeLimitSeconds", Reason: "must not be negative"}
	}
	if q.Access.AccessCodeRequired && q.Access.AccessCodeHash == "" {
		return &domain.ValidationError{Field: "accessCode", Reason: "required but not set"}
	}
	if q.Access.IPRestricted && len(q.Access.AllowedIPs) == 0 {
		return &domain.ValidationError{Field: "allowedIps", Reason: "ip restriction needs at least one entry"}
	}
	if err := access.ValidateAllowList(q.Access.AllowedIPs); err != nil {
		return err
	}
	for _, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return err
		}
	}
	return nil
}
