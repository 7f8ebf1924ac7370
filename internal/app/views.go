package app

import (
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"time"

	"quizhub/internal/domain"
	"quizhub/internal/scoring"
)

// IdentitySummary is the part of an identity echoed back to the taker.
type IdentitySummary struct {
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// AttemptHandle is returned by StartAttempt and GetAttempt.
type AttemptHandle struct {
	ID             string          `json:"id"`
	QuizID         string          `json:"quizId"`
	QuizTitle      string          `json:"quizTitle"`
	QuizVersion    *int            `json:"quizVersion,omitempty"`
	Identity       IdentitySummary `json:"identity"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	Completed      bool            `json:"completed"`
}

func newHandle(a domain.Attempt, title string, now time.Time) AttemptHandle {
	elapsed := a.ElapsedSeconds
	if !a.Completed() {
		elapsed = int(now.Sub(a.StartedAt) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
	}
	return AttemptHandle{
		ID:          a.ID,
		QuizID:      a.QuizID,
		QuizTitle:   title,
		QuizVersion: a.QuizVersion,
		Identity: IdentitySummary{
			UserID:    a.Identity.UserID,
			Name:      a.Identity.Name,
			Email:     a.Identity.Email,
			Anonymous: a.Identity.Anonymous(),
		},
		StartedAt:      a.StartedAt,
		CompletedAt:    a.CompletedAt,
		ElapsedSeconds: elapsed,
		Completed:      a.Completed(),
	}
}

// AttemptResult is the graded view of a completed attempt. When Redacted is set
// only the identifiers and ResultsVisibleFrom are filled.
type AttemptResult struct {
	AttemptID          string         `json:"attemptId"`
	QuizID             string         `json:"quizId"`
	QuizTitle          string         `json:"quizTitle"`
	StartedAt          time.Time      `json:"startedAt"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	ElapsedSeconds     int            `json:"elapsedSeconds"`
	Redacted           bool           `json:"redacted"`
	ResultsVisibleFrom *time.Time     `json:"resultsVisibleFrom,omitempty"`
	Score              *int           `json:"score,omitempty"`
	MaxScore           *int           `json:"maxScore,omitempty"`
	Percentage         *float64       `json:"percentage,omitempty"`
	Passed             *bool          `json:"passed,omitempty"`
	Answers            []AnswerResult `json:"answers,omitempty"`
}

// AnswerResult is the per-question feedback of a result.
type AnswerResult struct {
	QuestionID       string                 `json:"questionId"`
	QuestionText     string                 `json:"questionText"`
	Type             domain.QuestionType    `json:"type"`
	Submitted        json.RawMessage        `json:"submitted,omitempty"`
	Correct          bool                   `json:"correct"`
	Points           int                    `json:"points"`
	MaxPoints        int                    `json:"maxPoints"`
	Pending          bool                   `json:"pending"`
	TimeTakenSeconds *int                   `json:"timeTakenSeconds,omitempty"`
	Blanks           []scoring.BlankResult  `json:"blanks,omitempty"`
	Fields           []scoring.FieldResult  `json:"fields,omitempty"`
	CorrectAnswer    *scoring.CorrectAnswer `json:"correctAnswer,omitempty"`
	Explanation      string                 `json:"explanation,omitempty"`
}

// buildResult assembles the result view. Stored points are authoritative; the
// per-blank and per-field detail is regraded from the stored payload.
func buildResult(a domain.Attempt, content domain.Snapshot, rows []domain.Answer, now time.Time) AttemptResult {
	res := AttemptResult{
		AttemptID:      a.ID,
		QuizID:         a.QuizID,
		QuizTitle:      content.Title,
		StartedAt:      a.StartedAt,
		CompletedAt:    a.CompletedAt,
		ElapsedSeconds: a.ElapsedSeconds,
	}
	if from := content.Schedule.ResultsVisibleFrom; from != nil && now.Before(*from) {
		res.Redacted = true
		res.ResultsVisibleFrom = from
		return res
	}

	score, maxScore, pct, passed := a.Score, a.MaxScore, a.Percentage, a.Passed
	res.Score, res.MaxScore, res.Percentage, res.Passed = &score, &maxScore, &pct, &passed

	reveal := content.Settings.ShowCorrectAnswers
	res.Answers = make([]AnswerResult, 0, len(rows))
	for _, row := range rows {
		item := AnswerResult{
			QuestionID:       row.QuestionID,
			Submitted:        row.Payload,
			Correct:          row.Correct,
			Points:           row.Points,
			Pending:          row.Pending,
			TimeTakenSeconds: row.TimeTakenSeconds,
		}
		question, ok := content.QuestionByID(row.QuestionID)
		if ok {
			outcome := scoring.Score(question, row.Payload)
			item.QuestionText = question.Text
			item.Type = question.Type()
			item.MaxPoints = question.Points
			item.Blanks = outcome.Blanks
			item.Fields = outcome.Fields
			if reveal {
				ca := outcome.CorrectAnswer
				item.CorrectAnswer = &ca
				item.Explanation = question.Explanation
			} else {
				hideExpected(&item)
			}
		}
		res.Answers = append(res.Answers, item)
	}
	return res
}

func hideExpected(item *AnswerResult) {
	for i := range item.Blanks {
		item.Blanks[i].Expected = ""
	}
	for i := range item.Fields {
		item.Fields[i].Expected = ""
	}
}

// AttemptContent is the taker view of an attempt's frozen version.
type AttemptContent struct {
	AttemptID        string          `json:"attemptId"`
	QuizID           string          `json:"quizId"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	TimeLimitSeconds int             `json:"timeLimitSeconds,omitempty"`
	Questions        []TakerQuestion `json:"questions"`
}

// TakerQuestion carries nothing that reveals the answer key.
type TakerQuestion struct {
	ID         string              `json:"id"`
	Type       domain.QuestionType `json:"type"`
	Text       string              `json:"text"`
	Points     int                 `json:"points"`
	Position   int                 `json:"position"`
	Choices    []TakerChoice       `json:"choices,omitempty"`
	Blanks     int                 `json:"blanks,omitempty"`
	Fields     []TakerField        `json:"fields,omitempty"`
	AllowImage bool                `json:"allowImage,omitempty"`
}

type TakerChoice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type TakerField struct {
	ID      string        `json:"id"`
	Choices []TakerChoice `json:"choices"`
}

// newAttemptContent strips the answer key and applies the shuffle flags. The order
// is seeded by the attempt id so reloads see the same order.
func newAttemptContent(a domain.Attempt, content domain.Snapshot) AttemptContent {
	rng := rand.New(rand.NewSource(seed(a.ID)))
	shuffleAnswers := content.Settings.ShuffleAnswers

	questions := make([]TakerQuestion, 0, len(content.Questions))
	for _, q := range content.Questions {
		tq := TakerQuestion{ID: q.ID, Type: q.Type(), Text: q.Text, Points: q.Points, Position: q.Position}
		switch d := q.Data.(type) {
		case domain.SingleChoiceData:
			tq.Choices = takerChoices(d.Choices, shuffleAnswers, rng)
		case domain.MultiChoiceData:
			tq.Choices = takerChoices(d.Choices, shuffleAnswers, rng)
		case domain.FillBlankData:
			tq.Blanks = len(d.Answers)
		case domain.DropdownData:
			for _, f := range d.Fields {
				tq.Fields = append(tq.Fields, TakerField{ID: f.ID, Choices: takerChoices(f.Choices, shuffleAnswers, rng)})
			}
		case domain.FreeTextData:
			tq.AllowImage = d.AllowImage
		}
		questions = append(questions, tq)
	}
	if content.Settings.ShuffleQuestions {
		rng.Shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
	}

	return AttemptContent{
		AttemptID:        a.ID,
		QuizID:           a.QuizID,
		Title:            content.Title,
		Description:      content.Description,
		TimeLimitSeconds: content.Settings.TimeLimitSeconds,
		Questions:        questions,
	}
}

func takerChoices(choices []domain.Choice, shuffle bool, rng *rand.Rand) []TakerChoice {
	out := make([]TakerChoice, len(choices))
	for i, c := range choices {
		out[i] = TakerChoice{ID: c.ID, Text: c.Text}
	}
	if shuffle {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

func seed(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}
