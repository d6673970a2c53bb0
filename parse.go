package multihop

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const planSchema = `{
  "type": "object",
  "required": ["plan"],
  "properties": {
    "plan": {"type": "array", "items": {"type": "string"}}
  }
}`

const finalAnswerSchema = `{
  "type": "object",
  "required": ["final_answer"],
  "properties": {
    "question_type": {"type": "string"},
    "final_answer": {"type": "string"},
    "reasoning": {"type": "string"}
  }
}`

var (
	planSchemaCompiled        = jsonschema.MustCompileString("plan.json", planSchema)               //nolint:gochecknoglobals
	finalAnswerSchemaCompiled = jsonschema.MustCompileString("final_answer.json", finalAnswerSchema) //nolint:gochecknoglobals

	thinkRegex     = regexp.MustCompile(`(?s)<think>.*?</think>`)         //nolint:gochecknoglobals
	codeBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)\n```") //nolint:gochecknoglobals
	ordinalRegex   = regexp.MustCompile(`\d+`)                             //nolint:gochecknoglobals
)

var errEmptyPlan = errors.New("plan has no steps")

type finalAnswer struct {
	QuestionType string `json:"question_type"`
	FinalAnswer  string `json:"final_answer"`
	Reasoning    string `json:"reasoning"`
}

// StripThinkBlocks removes <think>...</think> blocks from oracle responses.
// Some models (like qwen3) output reasoning in these blocks.
func StripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkRegex.ReplaceAllString(s, ""))
}

// responseText extracts usable text from an oracle response. It strips
// <think> blocks from Text first and falls back to Reasoning when Text is
// empty.
func responseText(resp OracleResponse) string {
	text := StripThinkBlocks(resp.Text)
	if text != "" {
		return text
	}
	return StripThinkBlocks(resp.Reasoning)
}

// extractJSON attempts to extract a JSON object or array from an oracle
// response that may wrap the JSON in markdown code blocks or include leading
// text.
func extractJSON(raw string) string {
	if m := codeBlockRegex.FindStringSubmatch(raw); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return raw
	}
	closer := byte('}')
	if raw[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(raw, closer)
	if end < start {
		return raw
	}
	return raw[start : end+1]
}

// decodeValidated parses raw as JSON, checks it against schema and decodes it
// into out.
func decodeValidated(raw string, schema *jsonschema.Schema, out any) error {
	body := extractJSON(raw)
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("json parse: %w (raw: %.200s)", err, raw)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return json.Unmarshal([]byte(body), out)
}

// parsePlan reads {"plan": [...]} and returns at most maxSteps non-empty steps.
func parsePlan(raw string, maxSteps int) ([]string, error) {
	var parsed struct {
		Plan []string `json:"plan"`
	}
	if err := decodeValidated(raw, planSchemaCompiled, &parsed); err != nil {
		return nil, err
	}
	steps := trimStrings(parsed.Plan)
	if len(steps) == 0 {
		return nil, errEmptyPlan
	}
	if maxSteps > 0 && len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return steps, nil
}

func parseFinalAnswer(raw string) (finalAnswer, error) {
	var parsed finalAnswer
	if err := decodeValidated(raw, finalAnswerSchemaCompiled, &parsed); err != nil {
		return finalAnswer{}, err
	}
	parsed.FinalAnswer = strings.TrimSpace(parsed.FinalAnswer)
	if parsed.FinalAnswer == "" {
		return finalAnswer{}, errors.New("final_answer is empty")
	}
	return parsed, nil
}

// parseOrdinal reads the first integer in raw as a 1-based position and
// returns the matching 0-based index when it falls inside [0, n).
func parseOrdinal(raw string, n int) (int, bool) {
	m := ordinalRegex.FindString(raw)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	idx := v - 1
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

func trimStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
