package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QuestionType tags the payload variant of a question.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionFillBlank    QuestionType = "fill_blank"
	QuestionDropdown     QuestionType = "dropdown"
	QuestionFreeText     QuestionType = "free_text"
	QuestionNumeric      QuestionType = "numeric"
	QuestionFileUpload   QuestionType = "file_upload"
)

const (
	MinQuestionPoints = 1
	MaxQuestionPoints = 100
)

// Question belongs to exactly one quiz. Position is unique and contiguous per quiz.
type Question struct {
	ID          string
	Text        string
	Explanation string
	Points      int
	Position    int
	Data        QuestionData
}

// Type returns the tag of the question's payload.
func (q Question) Type() QuestionType {
	if q.Data == nil {
		return ""
	}
	return q.Data.QuestionType()
}

// Validate checks the structural constraints of a question.
func (q Question) Validate() error {
	if q.Points < MinQuestionPoints || q.Points > MaxQuestionPoints {
		return &ValidationError{Field: "points", Reason: fmt.Sprintf("must be between %d and %d", MinQuestionPoints, MaxQuestionPoints)}
	}
	if q.Data == nil {
		return &ValidationError{Field: "data", Reason: "missing question data"}
	}
	return q.Data.Validate()
}

// QuestionData is the closed set of per-type payloads.
type QuestionData interface {
	QuestionType() QuestionType
	Validate() error
	isQuestionData()
}

// Choice is an option of a choice or dropdown question.
type Choice struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type SingleChoiceData struct {
	Choices []Choice `json:"choices"`
}

type MultiChoiceData struct {
	Choices []Choice `json:"choices"`
}

type TrueFalseData struct {
	Correct bool `json:"correct"`
}

// FillBlankData lists, per blank, every acceptable answer.
type FillBlankData struct {
	Answers       [][]string `json:"answers"`
	CaseSensitive bool       `json:"caseSensitive,omitempty"`
	Numeric       bool       `json:"numeric,omitempty"`
	Tolerance     float64    `json:"tolerance,omitempty"`
}

// DropdownField is one select box; a question with one field is a single dropdown.
type DropdownField struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

type DropdownData struct {
	Fields []DropdownField `json:"fields"`
}

type NumericData struct {
	CorrectAnswer float64 `json:"correctAnswer"`
	Tolerance     float64 `json:"tolerance,omitempty"`
}

type FreeTextData struct {
	ReferenceAnswer string `json:"referenceAnswer,omitempty"`
	AllowImage      bool   `json:"allowImage,omitempty"`
}

type FileUploadData struct {
	ReferenceAnswer string `json:"referenceAnswer,omitempty"`
}

func (SingleChoiceData) QuestionType() QuestionType { return QuestionSingleChoice }
func (MultiChoiceData) QuestionType() QuestionType  { return QuestionMultiChoice }
func (TrueFalseData) QuestionType() QuestionType    { return QuestionTrueFalse }
func (FillBlankData) QuestionType() QuestionType    { return QuestionFillBlank }
func (DropdownData) QuestionType() QuestionType     { return QuestionDropdown }
func (NumericData) QuestionType() QuestionType      { return QuestionNumeric }
func (FreeTextData) QuestionType() QuestionType     { return QuestionFreeText }
func (FileUploadData) QuestionType() QuestionType   { return QuestionFileUpload }

func (SingleChoiceData) isQuestionData() {}
func (MultiChoiceData) isQuestionData()  {}
func (TrueFalseData) isQuestionData()    {}
func (FillBlankData) isQuestionData()    {}
func (DropdownData) isQuestionData()     {}
func (NumericData) isQuestionData()      {}
func (FreeTextData) isQuestionData()     {}
func (FileUploadData) isQuestionData()   {}

func (d SingleChoiceData) Validate() error {
	correct, err := validateChoices("choices", d.Choices)
	if err != nil {
		return err
	}
	if correct != 1 {
		return &ValidationError{Field: "choices", Reason: "exactly one choice must be correct"}
	}
	return nil
}

func (d MultiChoiceData) Validate() error {
	correct, err := validateChoices("choices", d.Choices)
	if err != nil {
		return err
	}
	if correct == 0 {
		return &ValidationError{Field: "choices", Reason: "at least one choice must be correct"}
	}
	return nil
}

func (TrueFalseData) Validate() error { return nil }

func (d FillBlankData) Validate() error {
	if len(d.Answers) == 0 {
		return &ValidationError{Field: "answers", Reason: "at least one blank is required"}
	}
	for i, accepted := range d.Answers {
		if len(accepted) == 0 {
			return &ValidationError{Field: fmt.Sprintf("answers[%d]", i), Reason: "blank needs an acceptable answer"}
		}
	}
	if d.Tolerance < 0 {
		return &ValidationError{Field: "tolerance", Reason: "must not be negative"}
	}
	return nil
}

func (d DropdownData) Validate() error {
	if len(d.Fields) == 0 {
		return &ValidationError{Field: "fields", Reason: "at least one dropdown is required"}
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for i, field := range d.Fields {
		name := fmt.Sprintf("fields[%d]", i)
		if field.ID == "" {
			return &ValidationError{Field: name, Reason: "missing id"}
		}
		if _, dup := seen[field.ID]; dup {
			return &ValidationError{Field: name, Reason: "duplicate id"}
		}
		seen[field.ID] = struct{}{}
		correct, err := validateChoices(name+".choices", field.Choices)
		if err != nil {
			return err
		}
		if correct != 1 {
			return &ValidationError{Field: name, Reason: "exactly one choice must be correct"}
		}
	}
	return nil
}

func (d NumericData) Validate() error {
	if d.Tolerance < 0 {
		return &ValidationError{Field: "tolerance", Reason: "must not be negative"}
	}
	return nil
}

func (FreeTextData) Validate() error   { return nil }
func (FileUploadData) Validate() error { return nil }

func validateChoices(field string, choices []Choice) (int, error) {
	if len(choices) < 2 {
		return 0, &ValidationError{Field: field, Reason: "at least two choices are required"}
	}
	seen := make(map[string]struct{}, len(choices))
	correct := 0
	for _, c := range choices {
		if c.ID == "" {
			return 0, &ValidationError{Field: field, Reason: "choice id is required"}
		}
		if _, dup := seen[c.ID]; dup {
			return 0, &ValidationError{Field: field, Reason: "duplicate choice id " + c.ID}
		}
		seen[c.ID] = struct{}{}
		if c.Correct {
			correct++
		}
	}
	return correct, nil
}

// DecodeQuestionData parses raw into the variant declared by t. Unknown fields are
// rejected so a payload cannot carry another type's shape.
func DecodeQuestionData(t QuestionType, raw json.RawMessage) (QuestionData, error) {
	var data QuestionData
	switch t {
	case QuestionSingleChoice:
		data = &SingleChoiceData{}
	case QuestionMultiChoice:
		data = &MultiChoiceData{}
	case QuestionTrueFalse:
		data = &TrueFalseData{}
	case QuestionFillBlank:
		data = &FillBlankData{}
	case QuestionDropdown:
		data = &DropdownData{}
	case QuestionNumeric:
		data = &NumericData{}
	case QuestionFreeText:
		data = &FreeTextData{}
	case QuestionFileUpload:
		data = &FileUploadData{}
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown question type %q", t)}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if t == QuestionFreeText || t == QuestionFileUpload {
			return deref(data), nil
		}
		return nil, &ValidationError{Field: "data", Reason: "missing data for " + string(t)}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(data); err != nil {
		return nil, &ValidationError{Field: "data", Reason: fmt.Sprintf("does not match %s: %v", t, err)}
	}
	return deref(data), nil
}

// deref stores variants by value so snapshots compare structurally.
func deref(data QuestionData) QuestionData {
	switch d := data.(type) {
	case *SingleChoiceData:
		return *d
	case *MultiChoiceData:
		return *d
	case *TrueFalseData:
		return *d
	case *FillBlankData:
		return *d
	case *DropdownData:
		return *d
	case *NumericData:
		return *d
	case *FreeTextData:
		return *d
	case *FileUploadData:
		return *d
	}
	return data
}

type questionWire struct {
	ID          string          `json:"id"`
	Type        QuestionType    `json:"type"`
	Text        string          `json:"text"`
	Explanation string          `json:"explanation,omitempty"`
	Points      int             `json:"points"`
	Position    int             `json:"position"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{
		ID:          q.ID,
		Type:        q.Type(),
		Text:        q.Text,
		Explanation: q.Explanation,
		Points:      q.Points,
		Position:    q.Position,
	}
	if q.Data != nil {
		raw, err := json.Marshal(q.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

func (q *Question) UnmarshalJSON(b []byte) error {
	var w questionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data, err := DecodeQuestionData(w.Type, w.Data)
	if err != nil {
		return err
	}
	*q = Question{
		ID:          w.ID,
		Text:        w.Text,
		Explanation: w.Explanation,
		Points:      w.Points,
		Position:    w.Position,
		Data:        data,
	}
	return nil
}
