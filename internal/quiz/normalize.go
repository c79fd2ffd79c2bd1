// Package quiz turns loosely shaped generator output into canonical questions.
package quiz

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/vidquiz/internal/model"
)

// Normalize converts raw generator output into canonical questions.
//
// raw may be a JSON document (string, []byte or json.RawMessage), an already
// decoded list, an object wrapping the list under "quiz", or a list of
// model.Question. It never fails: unusable input yields an empty list and
// malformed fields are blanked.
func Normalize(raw any) []model.Question {
	out := []model.Question{}
	for _, item := range items(raw) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, normalizeItem(obj))
	}
	return out
}

// items resolves the raw value to the list of question candidates.
func items(raw any) []any {
	switch v := raw.(type) {
	case string:
		return items(decode([]byte(v)))
	case []byte:
		return items(decode(v))
	case json.RawMessage:
		return items(decode(v))
	case []model.Question:
		list := make([]any, 0, len(v))
		for _, q := range v {
			list = append(list, questionMap(q))
		}
		return list
	case []map[string]any:
		list := make([]any, 0, len(v))
		for _, m := range v {
			list = append(list, m)
		}
		return list
	case map[string]any:
		if inner, ok := v["quiz"]; ok {
			// A JSON-encoded list nested under "quiz" is unwrapped too.
			if s, isStr := inner.(string); isStr {
				inner = decode([]byte(s))
			}
			if list, ok := inner.([]any); ok {
				return list
			}
		}
		return nil
	case []any:
		return v
	default:
		return nil
	}
}

func decode(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	// A top-level string is not re-parsed: only one level of encoding is accepted.
	if _, ok := v.(string); ok {
		return nil
	}
	return v
}

func questionMap(q model.Question) map[string]any {
	opts := make([]any, len(q.Options))
	for i, o := range q.Options {
		opts[i] = o
	}
	m := map[string]any{"question": q.Question, "options": opts}
	if q.Answer != "" {
		m["answer"] = q.Answer
	}
	return m
}

func normalizeItem(obj map[string]any) model.Question {
	q := model.Question{Options: []string{}}

	text, ok := scalarString(obj["question"])
	if !ok || text == "" {
		text, _ = scalarString(obj["text"])
	}
	q.Question = text

	if list, ok := obj["options"].([]any); ok {
		for _, o := range list {
			s, _ := scalarString(o)
			q.Options = append(q.Options, s)
		}
	}

	q.Answer = resolveAnswer(obj, q.Options)
	return q
}

// resolveAnswer picks the explicit answer first, then answer_index.
func resolveAnswer(obj map[string]any, options []string) string {
	if s, ok := scalarString(obj["answer"]); ok && s != "" {
		return s
	}
	idx, ok := index(obj["answer_index"])
	if !ok || idx < 0 || idx >= len(options) {
		return ""
	}
	return options[idx]
}

// scalarString coerces JSON scalars to their string form.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func index(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || t > math.MaxInt32 || t < math.MinInt32 {
			return 0, false
		}
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Strip returns the quiz-taking view of questions, without answers.
func Strip(questions []model.Question) []model.QuizItem {
	out := make([]model.QuizItem, 0, len(questions))
	for _, q := range questions {
		opts := q.Options
		if opts == nil {
			opts = []string{}
		}
		out = append(out, model.QuizItem{Question: q.Question, Options: opts})
	}
	return out
}

// Answers returns the canonical answer of each question, in order.
func Answers(questions []model.Question) []string {
	out := make([]string, len(questions))
	for i, q := range questions {
		out[i] = q.Answer
	}
	return out
}
