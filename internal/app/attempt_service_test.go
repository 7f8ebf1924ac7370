package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"quizhub/internal/app"
	"quizhub/internal/domain"
)

var taker = domain.Identity{UserID: "taker"}

func start(t *testing.T, f *fixture, quizID string, identity domain.Identity) app.AttemptHandle {
	t.Helper()
	handle, err := f.attempts.StartAttempt(context.Background(), app.StartRequest{QuizID: quizID, Identity: identity})
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	return handle
}

func TestStartAttemptResumesInProgress(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{})

	first := start(t, f, quiz.ID, taker)
	f.advance(time.Minute)
	second := start(t, f, quiz.ID, taker)
	if first.ID != second.ID {
		t.Fatalf("expected the in-progress attempt to be resumed, got %s and %s", first.ID, second.ID)
	}
	if second.ElapsedSeconds != 60 || second.Completed {
		t.Fatalf("unexpected handle %+v", second)
	}
	if first.QuizVersion == nil || *first.QuizVersion != *quiz.PublishedVersion {
		t.Fatalf("attempt must be bound to the published version, got %v", first.QuizVersion)
	}
}

func TestSubmitScoresAnswers(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{Settings: domain.Settings{PassingScore: intPtr(67)}})
	q1, q2 := quiz.Questions[0].ID, quiz.Questions[1].ID

	handle := start(t, f, quiz.ID, taker)
	f.advance(90 * time.Second)
	result, err := f.attempts.SubmitAnswers(context.Background(), handle.ID, taker, []app.SubmittedAnswer{
		answer(q1, `"b"`),
		answer(q2, `["a"]`),
		answer(q2, `["a","b"]`),
		answer("unknown", `"x"`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *result.Score != 4 || *result.MaxScore != 6 {
		t.Fatalf("expected 4 of 6, got %d of %d", *result.Score, *result.MaxScore)
	}
	if *result.Percentage != 66.67 || *result.Passed {
		t.Fatalf("expected 66.67%% failing a 67 threshold, got %v passed=%v", *result.Percentage, *result.Passed)
	}
	if result.ElapsedSeconds != 90 || result.CompletedAt == nil {
		t.Fatalf("unexpected completion data %+v", result)
	}
	if len(result.Answers) != 2 {
		t.Fatalf("expected duplicate and unknown answers to be skipped, got %d answers", len(result.Answers))
	}
	if result.Answers[1].Points != 2 || result.Answers[1].Correct {
		t.Fatalf("expected partial credit on the multi choice question, got %+v", result.Answers[1])
	}
}

func TestPossiblePointsCountAnsweredQuestionsOnly(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{})

	handle := start(t, f, quiz.ID, taker)
	result, err := f.attempts.SubmitAnswers(context.Background(), handle.ID, taker, []app.SubmittedAnswer{
		answer(quiz.Questions[0].ID, `"b"`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *result.Score != 2 || *result.MaxScore != 2 || *result.Percentage != 100 {
		t.Fatalf("expected 2 of 2, got %d of %d (%v%%)", *result.Score, *result.MaxScore, *result.Percentage)
	}
}

func TestSubmitTwiceReturnsStoredResult(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{})
	q1 := quiz.Questions[0].ID

	handle := start(t, f, quiz.ID, taker)
	first, err := f.attempts.SubmitAnswers(context.Background(), handle.ID, taker, []app.SubmittedAnswer{answer(q1, `"a"`)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.advance(time.Hour)
	second, err := f.attempts.SubmitAnswers(context.Background(), handle.ID, taker, []app.SubmittedAnswer{answer(q1, `"b"`)})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if *second.Score != *first.Score || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("resubmission changed the attempt: %+v vs %+v", first, second)
	}

	next := start(t, f, quiz.ID, taker)
	if next.ID == handle.ID {
		t.Fatalf("a completed attempt must not be resumed")
	}
}

func TestAttemptScoresAgainstItsFrozenVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := f.publishedQuiz(t, app.QuizInput{})
	q1 := quiz.Questions[0].ID

	old := start(t, f, quiz.ID, taker)

	// The author flips the key of q1 and republishes.
	flipped := singleChoice("What is 2 + 2?", 2)
	flipped.Data = json.RawMessage(`{"choices":[{"id":"a","text":"3","correct":true},{"id":"b","text":"4"}]}`)
	if _, err := f.versions.UpdateQuestion(ctx, quiz.ID, q1, "author", quiz.Version, flipped); err != nil {
		t.Fatalf("update question: %v", err)
	}
	if _, err := f.versions.UpdatePublishedVersion(ctx, quiz.ID, "author"); err != nil {
		t.Fatalf("republish: %v", err)
	}

	other := domain.Identity{UserID: "other"}
	fresh := start(t, f, quiz.ID, other)
	if *fresh.QuizVersion == *old.QuizVersion {
		t.Fatalf("new attempt should use the republished version")
	}

	oldResult, err := f.attempts.SubmitAnswers(ctx, old.ID, taker, []app.SubmittedAnswer{answer(q1, `"b"`)})
	if err != nil {
		t.Fatalf("submit old: %v", err)
	}
	freshResult, err := f.attempts.SubmitAnswers(ctx, fresh.ID, other, []app.SubmittedAnswer{answer(q1, `"b"`)})
	if err != nil {
		t.Fatalf("submit fresh: %v", err)
	}
	if *oldResult.Score != 2 || *freshResult.Score != 0 {
		t.Fatalf("expected old=2 fresh=0, got old=%d fresh=%d", *oldResult.Score, *freshResult.Score)
	}
}

func TestUnpublishedQuizKeepsExistingAttemptsScoreable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := f.publishedQuiz(t, app.QuizInput{})
	handle := start(t, f, quiz.ID, taker)

	if err := f.versions.Unpublish(ctx, quiz.ID, "author"); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: domain.Identity{UserID: "other"}})
	var unavailable *domain.NotAvailableError
	if !errors.As(err, &unavailable) || unavailable.Status != domain.AvailabilityUnpublished {
		t.Fatalf("expected unpublished, got %v", err)
	}

	result, err := f.attempts.SubmitAnswers(ctx, handle.ID, taker, []app.SubmittedAnswer{answer(quiz.Questions[0].ID, `"b"`)})
	if err != nil || *result.Score != 2 {
		t.Fatalf("expected existing attempt to be scored, got %+v %v", result, err)
	}
}

func TestResultsHiddenUntilVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visible := f.now.Add(time.Hour)
	quiz := f.publishedQuiz(t, app.QuizInput{Schedule: domain.Schedule{ResultsVisibleFrom: &visible}})

	handle := start(t, f, quiz.ID, taker)
	result, err := f.attempts.SubmitAnswers(ctx, handle.ID, taker, []app.SubmittedAnswer{answer(quiz.Questions[0].ID, `"b"`)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Redacted || result.Score != nil || result.Answers != nil || !result.ResultsVisibleFrom.Equal(visible) {
		t.Fatalf("expected redacted result, got %+v", result)
	}

	f.advance(2 * time.Hour)
	result, err = f.attempts.GetResult(ctx, handle.ID, taker)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.Redacted || result.Score == nil || *result.Score != 2 {
		t.Fatalf("expected full result, got %+v", result)
	}
}

func TestCorrectAnswersOnlyWhenEnabled(t *testing.T) {
	for _, show := range []bool{false, true} {
		t.Run(fmt.Sprintf("show=%v", show), func(t *testing.T) {
			f := newFixture(t)
			quiz := f.createQuiz(t, app.QuizInput{Settings: domain.Settings{ShowCorrectAnswers: show}})
			quiz = f.addQuestion(t, quiz, app.QuestionInput{
				Type:        domain.QuestionFillBlank,
				Text:        "The capital of France is ___",
				Explanation: "Paris has been the capital since 987.",
				Points:      1,
				Data:        json.RawMessage(`{"answers":[["Paris"]]}`),
			})
			f.publish(t, quiz.ID)

			handle := start(t, f, quiz.ID, taker)
			result, err := f.attempts.SubmitAnswers(context.Background(), handle.ID, taker, []app.SubmittedAnswer{
				answer(quiz.Questions[0].ID, `["Lyon"]`),
			})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			got := result.Answers[0]
			if len(got.Blanks) != 1 || got.Blanks[0].Submitted != "Lyon" {
				t.Fatalf("expected per-blank feedback, got %+v", got.Blanks)
			}
			revealed := got.CorrectAnswer != nil && got.Explanation != "" && got.Blanks[0].Expected == "Paris"
			hidden := got.CorrectAnswer == nil && got.Explanation == "" && got.Blanks[0].Expected == ""
			if show && !revealed {
				t.Fatalf("expected the key to be revealed, got %+v", got)
			}
			if !show && !hidden {
				t.Fatalf("expected the key to be hidden, got %+v", got)
			}
		})
	}
}

func TestGetResultWhileInProgress(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{})
	handle := start(t, f, quiz.ID, taker)

	_, err := f.attempts.GetResult(context.Background(), handle.ID, taker)
	if !errors.Is(err, domain.ErrNotAvailable) {
		t.Fatalf("expected not available, got %v", err)
	}
}

func TestAttemptsAreScopedToTheirIdentity(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{})
	handle := start(t, f, quiz.ID, taker)

	_, err := f.attempts.GetAttempt(context.Background(), handle.ID, domain.Identity{UserID: "other"})
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = f.attempts.SubmitAnswers(context.Background(), handle.ID, domain.Identity{UserID: "other"}, nil)
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAvailabilityWindow(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(time.Hour)
	until := f.now.Add(2 * time.Hour)
	quiz := f.publishedQuiz(t, app.QuizInput{Schedule: domain.Schedule{AvailableFrom: &from, AvailableUntil: &until}})

	_, err := f.attempts.StartAttempt(context.Background(), app.StartRequest{QuizID: quiz.ID, Identity: taker})
	var unavailable *domain.NotAvailableError
	if !errors.As(err, &unavailable) || unavailable.Status != domain.AvailabilityScheduled || !unavailable.AvailableFrom.Equal(from) {
		t.Fatalf("expected scheduled, got %v", err)
	}

	f.advance(90 * time.Minute)
	start(t, f, quiz.ID, taker)

	f.advance(time.Hour)
	_, err = f.attempts.StartAttempt(context.Background(), app.StartRequest{QuizID: quiz.ID, Identity: domain.Identity{UserID: "other"}})
	if !errors.As(err, &unavailable) || unavailable.Status != domain.AvailabilityClosed {
		t.Fatalf("expected closed, got %v", err)
	}
}

func TestAccessCodeRequired(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{AccessCode: "letmein"})
	ctx := context.Background()

	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: taker, AccessCode: "wrong"})
	if !errors.Is(err, domain.ErrInvalidAccessCode) {
		t.Fatalf("expected invalid access code, got %v", err)
	}
	if _, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: taker, AccessCode: "letmein"}); err != nil {
		t.Fatalf("start with code: %v", err)
	}
}

func TestIPRestriction(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{IPRestricted: true, AllowedIPs: []string{"10.0.0.0/8"}})
	ctx := context.Background()

	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: domain.Identity{UserID: "taker", IP: "192.168.1.5"}})
	if !errors.Is(err, domain.ErrIPNotAllowed) {
		t.Fatalf("expected ip not allowed, got %v", err)
	}
	if _, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: domain.Identity{UserID: "taker", IP: "10.1.2.3"}}); err != nil {
		t.Fatalf("start from allowed ip: %v", err)
	}
}

func TestMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := f.publishedQuiz(t, app.QuizInput{Settings: domain.Settings{MaxAttempts: intPtr(1)}})

	handle := start(t, f, quiz.ID, taker)
	if _, err := f.attempts.SubmitAnswers(ctx, handle.ID, taker, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: taker})
	var limit *domain.LimitError
	if !errors.As(err, &limit) || limit.Limit != 1 || limit.Used != 1 {
		t.Fatalf("expected limit 1 used 1, got %v", err)
	}
}

func TestAnonymousAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closed := f.publishedQuiz(t, app.QuizInput{})
	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: closed.ID, Identity: domain.Identity{SessionID: "s1", IP: "10.0.0.1"}})
	if !errors.Is(err, domain.ErrAnonymousDenied) {
		t.Fatalf("expected anonymous denied, got %v", err)
	}

	open := f.publishedQuiz(t, app.QuizInput{Settings: domain.Settings{AllowAnonymous: true}})
	for i := 1; i <= 3; i++ {
		start(t, f, open.ID, domain.Identity{SessionID: fmt.Sprintf("s%d", i), IP: "10.0.0.1"})
	}
	_, err = f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: open.ID, Identity: domain.Identity{SessionID: "s4", IP: "10.0.0.1"}})
	var limit *domain.LimitError
	if !errors.As(err, &limit) || limit.Limit != 3 {
		t.Fatalf("expected the anonymous ceiling of 3, got %v", err)
	}

	// An email moves the actor to its own bucket.
	start(t, f, open.ID, domain.Identity{SessionID: "s5", IP: "10.0.0.1", Email: "Guest@Example.com"})
}

func TestAttemptContentHidesKeyAndShufflesStably(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := f.createQuiz(t, app.QuizInput{Settings: domain.Settings{ShuffleQuestions: true, ShuffleAnswers: true}})
	for i := 0; i < 6; i++ {
		quiz = f.addQuestion(t, quiz, singleChoice(fmt.Sprintf("question %d", i), 1))
	}
	f.publish(t, quiz.ID)
	handle := start(t, f, quiz.ID, taker)

	first, err := f.attempts.GetAttemptContent(ctx, handle.ID, taker)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	second, _ := f.attempts.GetAttemptContent(ctx, handle.ID, taker)
	if len(first.Questions) != 6 {
		t.Fatalf("expected 6 questions, got %d", len(first.Questions))
	}
	for i := range first.Questions {
		if first.Questions[i].ID != second.Questions[i].ID {
			t.Fatalf("question order changed between reloads")
		}
		if first.Questions[i].Choices[0].ID != second.Questions[i].Choices[0].ID {
			t.Fatalf("choice order changed between reloads")
		}
	}

	raw, _ := json.Marshal(first)
	var generic map[string]any
	_ = json.Unmarshal(raw, &generic)
	for _, q := range generic["questions"].([]any) {
		for _, c := range q.(map[string]any)["choices"].([]any) {
			if _, leaked := c.(map[string]any)["correct"]; leaked {
				t.Fatalf("taker content leaks the answer key")
			}
		}
	}
}

func TestAnonymousMaxAttemptsByIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := f.publishedQuiz(t, app.QuizInput{Settings: domain.Settings{AllowAnonymous: true, MaxAttempts: intPtr(1)}})
	guest := domain.Identity{IP: "1.2.3.4"}

	handle := start(t, f, quiz.ID, guest)
	if _, err := f.attempts.SubmitAnswers(ctx, handle.ID, guest, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: guest})
	var limit *domain.LimitError
	if !errors.As(err, &limit) || limit.Limit != 1 || limit.Used != 1 {
		t.Fatalf("expected limit 1 used 1, got %v", err)
	}

	// A fresh session from the same address lands in the same bucket.
	_, err = f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: domain.Identity{SessionID: "tab-2", IP: "1.2.3.4"}})
	if !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected limit exceeded for the shared ip, got %v", err)
	}
}

func TestSessionsWithoutIPDoNotShareABucket(t *testing.T) {
	f := newFixture(t)
	quiz := f.publishedQuiz(t, app.QuizInput{Settings: domain.Settings{AllowAnonymous: true}})

	// More IP-less sessions than the anonymous ceiling of 3.
	for i := 1; i <= 5; i++ {
		start(t, f, quiz.ID, domain.Identity{SessionID: fmt.Sprintf("ws-%d", i)})
	}
}

func TestSessionBucketKeepsTheCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := f.publishedQuiz(t, app.QuizInput{Settings: domain.Settings{AllowAnonymous: true}})
	guest := domain.Identity{SessionID: "ws-1"}

	for i := 0; i < 3; i++ {
		handle := start(t, f, quiz.ID, guest)
		if _, err := f.attempts.SubmitAnswers(ctx, handle.ID, guest, nil); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	_, err := f.attempts.StartAttempt(ctx, app.StartRequest{QuizID: quiz.ID, Identity: guest})
	var limit *domain.LimitError
	if !errors.As(err, &limit) || limit.Limit != 3 {
		t.Fatalf("expected the anonymous ceiling of 3, got %v", err)
	}
}
