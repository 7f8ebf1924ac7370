package domain

import (
	"encoding/json"
	"time"
)

// QuizStatus is the lifecycle state of a quiz draft.
type QuizStatus string

const (
	StatusDraft     QuizStatus = "draft"
	StatusPublished QuizStatus = "published"
	StatusArchived  QuizStatus = "archived"
)

// Settings groups the taker-facing behavior of a quiz.
type Settings struct {
	TimeLimitSeconds   int  `json:"timeLimitSeconds,omitempty"`
	PassingScore       *int `json:"passingScore,omitempty"` // percent, nil means no threshold
	ShuffleQuestions   bool `json:"shuffleQuestions,omitempty"`
	ShuffleAnswers     bool `json:"shuffleAnswers,omitempty"`
	MaxAttempts        *int `json:"maxAttempts,omitempty"`
	AIGradingEnabled   bool `json:"aiGradingEnabled,omitempty"`
	ShowCorrectAnswers bool `json:"showCorrectAnswers,omitempty"`
	AllowAnonymous     bool `json:"allowAnonymous,omitempty"`
}

// Access holds the restrictions checked before an attempt starts.
// AccessCodeHash never leaves the draft; snapshots only carry the flag.
type Access struct {
	AccessCodeRequired bool     `json:"accessCodeRequired,omitempty"`
	AccessCodeHash     string   `json:"-"`
	IPRestricted       bool     `json:"ipRestricted,omitempty"`
	AllowedIPs         []string `json:"allowedIps,omitempty"`
}

// Schedule is the availability and result-visibility window. Every bound is optional.
type Schedule struct {
	AvailableFrom      *time.Time `json:"availableFrom,omitempty"`
	AvailableUntil     *time.Time `json:"availableUntil,omitempty"`
	ResultsVisibleFrom *time.Time `json:"resultsVisibleFrom,omitempty"`
}

// References are foreign ids owned by external collaborators.
type References struct {
	CategoryID string   `json:"categoryId,omitempty"`
	CourseID   string   `json:"courseId,omitempty"`
	TagIDs     []string `json:"tagIds,omitempty"`
}

// Quiz is the mutable draft aggregate.
type Quiz struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Settings    Settings   `json:"settings"`
	Access      Access     `json:"access"`
	Schedule    Schedule   `json:"schedule"`
	References  References `json:"references"`
	Questions   []Question `json:"questions"`

	Status           QuizStatus `json:"status"`
	Version          int64      `json:"version"`
	PublishedVersion *int       `json:"publishedVersion,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// QuestionByID returns the question with the given id.
func (q Quiz) QuestionByID(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Snapshot is the immutable, self-contained publishable state of a quiz.
type Snapshot struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Settings    Settings   `json:"settings"`
	Access      Access     `json:"access"`
	Schedule    Schedule   `json:"schedule"`
	References  References `json:"references"`
	Questions   []Question `json:"questions,omitempty"`
}

// QuestionByID returns the snapshot question with the given id.
func (s Snapshot) QuestionByID(id string) (Question, bool) {
	for _, question := range s.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// HistoryEntry is one append-only version of a quiz.
type HistoryEntry struct {
	QuizID    string    `json:"quizId"`
	Version   int       `json:"version"`
	Snapshot  Snapshot  `json:"snapshot"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attempt is one test-taking session against one frozen snapshot version.
type Attempt struct {
	ID       string   `json:"id"`
	QuizID   string   `json:"quizId"`
	Identity Identity `json:"identity"`
	// QuizVersion is nil only for attempts created before snapshots existed.
	QuizVersion *int `json:"quizVersion,omitempty"`

	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Score          int        `json:"score"`
	MaxScore       int        `json:"maxScore"`
	Percentage     float64    `json:"percentage"`
	Passed         bool       `json:"passed"`
	ElapsedSeconds int        `json:"elapsedSeconds"`
}

// Completed reports whether the attempt reached its terminal state.
func (a Attempt) Completed() bool {
	return a.CompletedAt != nil
}

// Answer is a graded response stored once at submission.
type Answer struct {
	ID               string          `json:"id"`
	AttemptID        string          `json:"attemptId"`
	QuestionID       string          `json:"questionId"`
	Payload          json.RawMessage `json:"payload"`
	Correct          bool            `json:"correct"`
	Points           int             `json:"points"`
	Pending          bool            `json:"pending"`
	TimeTakenSeconds *int            `json:"timeTakenSeconds,omitempty"`
}
