// Package versioning projects quiz drafts into immutable snapshots and compares them.
package versioning

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"quizhub/internal/domain"
)

// Snapshot projects the draft into a self-contained publishable value. It never
// shares memory with q, drops the access-code hash and keeps the first copy of a
// question id if a loader produced duplicates.
func Snapshot(q domain.Quiz) domain.Snapshot {
	return domain.Snapshot{
		Title:       q.Title,
		Description: q.Description,
		Settings:    cloneSettings(q.Settings),
		Access: domain.Access{
			AccessCodeRequired: q.Access.AccessCodeRequired,
			IPRestricted:       q.Access.IPRestricted,
			AllowedIPs:         cloneStrings(q.Access.AllowedIPs),
		},
		Schedule: domain.Schedule{
			AvailableFrom:      utc(q.Schedule.AvailableFrom),
			AvailableUntil:     utc(q.Schedule.AvailableUntil),
			ResultsVisibleFrom: utc(q.Schedule.ResultsVisibleFrom),
		},
		References: domain.References{
			CategoryID: q.References.CategoryID,
			CourseID:   q.References.CourseID,
			TagIDs:     cloneStrings(q.References.TagIDs),
		},
		Questions: DedupeQuestions(q.Questions),
	}
}

// DedupeQuestions returns deep copies ordered by position, first occurrence of each id wins.
func DedupeQuestions(questions []domain.Question) []domain.Question {
	if len(questions) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(questions))
	out := make([]domain.Question, 0, len(questions))
	for _, question := range questions {
		if _, dup := seen[question.ID]; dup {
			continue
		}
		seen[question.ID] = struct{}{}
		question.Data = CloneData(question.Data)
		out = append(out, question)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Equal compares two snapshots by their canonical encoding, which covers every
// field and is order-sensitive for questions.
func Equal(a, b domain.Snapshot) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// Restore copies a snapshot's publishable state onto a draft. Identity, ownership,
// lifecycle fields and the access-code hash stay as they are on the draft.
func Restore(draft domain.Quiz, s domain.Snapshot) domain.Quiz {
	restored := Snapshot(domain.Quiz{
		Title:       s.Title,
		Description: s.Description,
		Settings:    s.Settings,
		Access:      s.Access,
		Schedule:    s.Schedule,
		References:  s.References,
		Questions:   s.Questions,
	})
	draft.Title = restored.Title
	draft.Description = restored.Description
	draft.Settings = restored.Settings
	draft.Access.AccessCodeRequired = restored.Access.AccessCodeRequired
	draft.Access.IPRestricted = restored.Access.IPRestricted
	draft.Access.AllowedIPs = restored.Access.AllowedIPs
	draft.Schedule = restored.Schedule
	draft.References = restored.References
	draft.Questions = restored.Questions
	return draft
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := time.Unix(0, t.UnixNano()).UTC()
	return &v
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneSettings(s domain.Settings) domain.Settings {
	s.PassingScore = cloneInt(s.PassingScore)
	s.MaxAttempts = cloneInt(s.MaxAttempts)
	return s
}

func cloneChoices(in []domain.Choice) []domain.Choice {
	if in == nil {
		return nil
	}
	out := make([]domain.Choice, len(in))
	copy(out, in)
	return out
}

// CloneData deep-copies a question payload.
func CloneData(data domain.QuestionData) domain.QuestionData {
	switch d := data.(type) {
	case domain.SingleChoiceData:
		return domain.SingleChoiceData{Choices: cloneChoices(d.Choices)}
	case domain.MultiChoiceData:
		return domain.MultiChoiceData{Choices: cloneChoices(d.Choices)}
	case domain.FillBlankData:
		answers := make([][]string, len(d.Answers))
		for i, accepted := range d.Answers {
			answers[i] = cloneStrings(accepted)
		}
		d.Answers = answers
		return d
	case domain.DropdownData:
		fields := make([]domain.DropdownField, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = domain.DropdownField{ID: f.ID, Choices: cloneChoices(f.Choices)}
		}
		return domain.DropdownData{Fields: fields}
	}
	return data
}
