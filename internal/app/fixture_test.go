package app_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quizhub/internal/access"
	"quizhub/internal/app"
	"quizhub/internal/domain"
	"quizhub/internal/infra/memory"
)

type fixture struct {
	store     *memory.Store
	directory *memory.Directory
	versions  *app.VersioningService
	attempts  *app.AttemptService
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.store = memory.NewStore()
	f.directory = memory.NewDirectory()
	f.directory.AddUser("author", "taker", "other")
	hasher := access.NewBcryptHasher(4)

	f.versions = app.NewVersioningServiceWithClock(f.store, f.directory, f.directory, hasher, clock)
	f.attempts = app.NewAttemptServiceWithClock(
		f.store,
		memory.NewSnapshotCache(f.store, time.Minute),
		access.NewGuardWithClock(hasher, clock),
		app.AttemptConfig{AnonymousCeiling: 3},
		clock,
	)
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) createQuiz(t *testing.T, in app.QuizInput) domain.Quiz {
	t.Helper()
	if in.Title == "" {
		in.Title = "Arithmetic"
	}
	quiz, err := f.versions.CreateQuiz(context.Background(), "author", in)
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	return quiz
}

func (f *fixture) addQuestion(t *testing.T, quiz domain.Quiz, in app.QuestionInput) domain.Quiz {
	t.Helper()
	updated, err := f.versions.AddQuestion(context.Background(), quiz.ID, "author", quiz.Version, in)
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	return updated
}

func (f *fixture) publish(t *testing.T, quizID string) int {
	t.Helper()
	version, err := f.versions.Publish(context.Background(), quizID, "author")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return version
}

// publishedQuiz creates and publishes a quiz with a 2-point single choice
// question and a 4-point multi choice question.
func (f *fixture) publishedQuiz(t *testing.T, in app.QuizInput) domain.Quiz {
	t.Helper()
	quiz := f.createQuiz(t, in)
	quiz = f.addQuestion(t, quiz, singleChoice("What is 2 + 2?", 2))
	quiz = f.addQuestion(t, quiz, app.QuestionInput{
		Type:   domain.QuestionMultiChoice,
		Text:   "Pick the even numbers",
		Points: 4,
		Data:   json.RawMessage(`{"choices":[{"id":"a","text":"2","correct":true},{"id":"b","text":"4","correct":true},{"id":"c","text":"5"}]}`),
	})
	f.publish(t, quiz.ID)
	published, err := f.versions.GetQuiz(context.Background(), quiz.ID, "author")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	return published
}

func singleChoice(text string, points int) app.QuestionInput {
	return app.QuestionInput{
		Type:   domain.QuestionSingleChoice,
		Text:   text,
		Points: points,
		Data:   json.RawMessage(`{"choices":[{"id":"a","text":"3"},{"id":"b","text":"4","correct":true}]}`),
	}
}

func intPtr(v int) *int { return &v }

func answer(questionID, raw string) app.SubmittedAnswer {
	return app.SubmittedAnswer{QuestionID: questionID, Answer: json.RawMessage(raw)}
}
