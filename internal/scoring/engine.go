// Package scoring grades a single submitted answer against a question.
// Every function is pure: no clock, no storage, no logging.
package scoring

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"quizhub/internal/domain"
)

// Outcome is the grade of one answer.
type Outcome struct {
	Correct   bool
	Points    int
	MaxPoints int
	// Pending marks answers that wait for manual or AI grading.
	Pending bool
	Blanks  []BlankResult
	Fields  []FieldResult
	// CorrectAnswer is safe to show a taker once results are visible.
	CorrectAnswer CorrectAnswer
	// ReferenceAnswer is for human graders only and never reaches a taker.
	ReferenceAnswer string
}

// BlankResult is the per-blank feedback of a fill-in-blank question.
type BlankResult struct {
	Index     int    `json:"index"`
	Submitted string `json:"submitted"`
	Expected  string `json:"expected"`
	Correct   bool   `json:"correct"`
}

// FieldResult is the per-select feedback of a dropdown question.
type FieldResult struct {
	FieldID   string `json:"fieldId"`
	Submitted string `json:"submitted"`
	Expected  string `json:"expected"`
	Correct   bool   `json:"correct"`
}

// CorrectAnswer is the display form of a question's key.
type CorrectAnswer struct {
	ChoiceIDs []string          `json:"choiceIds,omitempty"`
	Boolean   *bool             `json:"boolean,omitempty"`
	Blanks    []string          `json:"blanks,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Number    *float64          `json:"number,omitempty"`
	Tolerance float64           `json:"tolerance,omitempty"`
}

// Score grades raw against q. Missing or malformed answers score zero; they never fail.
func Score(q domain.Question, raw json.RawMessage) Outcome {
	out := Outcome{MaxPoints: q.Points}
	switch d := q.Data.(type) {
	case domain.SingleChoiceData:
		scoreSingleChoice(&out, q.Points, d.Choices, raw)
	case domain.MultiChoiceData:
		scoreMultiChoice(&out, q.Points, d.Choices, raw)
	case domain.TrueFalseData:
		scoreTrueFalse(&out, q.Points, d, raw)
	case domain.FillBlankData:
		scoreFillBlank(&out, q.Points, d, raw)
	case domain.DropdownData:
		scoreDropdown(&out, q.Points, d, raw)
	case domain.NumericData:
		scoreNumeric(&out, q.Points, d, raw)
	case domain.FreeTextData:
		out.Pending = true
		out.ReferenceAnswer = d.ReferenceAnswer
	case domain.FileUploadData:
		out.Pending = true
		out.ReferenceAnswer = d.ReferenceAnswer
	}
	return out
}

func scoreSingleChoice(out *Outcome, points int, choices []domain.Choice, raw json.RawMessage) {
	expected := correctChoiceID(choices)
	out.CorrectAnswer.ChoiceIDs = []string{expected}

	selected, ok := asString(raw)
	if !ok || selected == "" {
		return
	}
	if selected == expected {
		out.Correct = true
		out.Points = points
	}
}

// scoreMultiChoice awards points * max(0, correctSelected-incorrectSelected) / totalCorrect.
func scoreMultiChoice(out *Outcome, points int, choices []domain.Choice, raw json.RawMessage) {
	correct := make(map[string]struct{})
	for _, c := range choices {
		if c.Correct {
			correct[c.ID] = struct{}{}
			out.CorrectAnswer.ChoiceIDs = append(out.CorrectAnswer.ChoiceIDs, c.ID)
		}
	}

	selected, ok := asStrings(raw)
	if !ok {
		return
	}
	picked := make(map[string]struct{}, len(selected))
	hits, misses := 0, 0
	for _, id := range selected {
		if _, dup := picked[id]; dup {
			continue
		}
		picked[id] = struct{}{}
		if _, ok := correct[id]; ok {
			hits++
		} else {
			misses++
		}
	}

	out.Points = proportion(points, hits-misses, len(correct))
	out.Correct = misses == 0 && hits == len(correct) && len(correct) > 0
}

func scoreTrueFalse(out *Outcome, points int, d domain.TrueFalseData, raw json.RawMessage) {
	expected := d.Correct
	out.CorrectAnswer.Boolean = &expected

	got, ok := asBool(raw)
	if ok && got == expected {
		out.Correct = true
		out.Points = points
	}
}

func scoreFillBlank(out *Outcome, points int, d domain.FillBlankData, raw json.RawMessage) {
	submitted, _ := asStrings(raw)

	hits := 0
	out.Blanks = make([]BlankResult, len(d.Answers))
	out.CorrectAnswer.Blanks = make([]string, len(d.Answers))
	for i, accepted := range d.Answers {
		value := ""
		if i < len(submitted) {
			value = strings.TrimSpace(submitted[i])
		}
		expected := ""
		if len(accepted) > 0 {
			expected = accepted[0]
		}
		ok := value != "" && blankMatches(value, accepted, d)
		if ok {
			hits++
		}
		out.Blanks[i] = BlankResult{Index: i, Submitted: value, Expected: expected, Correct: ok}
		out.CorrectAnswer.Blanks[i] = expected
	}

	out.Points = proportion(points, hits, len(d.Answers))
	out.Correct = len(d.Answers) > 0 && hits == len(d.Answers)
}

func blankMatches(value string, accepted []string, d domain.FillBlankData) bool {
	for _, candidate := range accepted {
		candidate = strings.TrimSpace(candidate)
		if d.Numeric {
			got, errGot := strconv.ParseFloat(value, 64)
			want, errWant := strconv.ParseFloat(candidate, 64)
			if errGot == nil && errWant == nil {
				if math.Abs(got-want) <= d.Tolerance {
					return true
				}
				continue
			}
		}
		if d.CaseSensitive {
			if value == candidate {
				return true
			}
		} else if strings.EqualFold(value, candidate) {
			return true
		}
	}
	return false
}

// scoreDropdown grades a single select all-or-nothing and several selects by the
// ratio of correct selects to total selects.
func scoreDropdown(out *Outcome, points int, d domain.DropdownData, raw json.RawMessage) {
	out.CorrectAnswer.Fields = make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		out.CorrectAnswer.Fields[f.ID] = correctChoiceID(f.Choices)
	}

	selections := dropdownSelections(d.Fields, raw)
	hits := 0
	out.Fields = make([]FieldResult, len(d.Fields))
	for i, f := range d.Fields {
		expected := out.CorrectAnswer.Fields[f.ID]
		got := selections[f.ID]
		ok := got != "" && got == expected
		if ok {
			hits++
		}
		out.Fields[i] = FieldResult{FieldID: f.ID, Submitted: got, Expected: expected, Correct: ok}
	}

	out.Correct = len(d.Fields) > 0 && hits == len(d.Fields)
	if len(d.Fields) == 1 {
		if out.Correct {
			out.Points = points
		}
		return
	}
	out.Points = proportion(points, hits, len(d.Fields))
}

func scoreNumeric(out *Outcome, points int, d domain.NumericData, raw json.RawMessage) {
	expected := d.CorrectAnswer
	out.CorrectAnswer.Number = &expected
	out.CorrectAnswer.Tolerance = d.Tolerance

	got, ok := asNumber(raw)
	if ok && math.Abs(got-expected) <= d.Tolerance {
		out.Correct = true
		out.Points = points
	}
}

func correctChoiceID(choices []domain.Choice) string {
	for _, c := range choices {
		if c.Correct {
			return c.ID
		}
	}
	return ""
}
