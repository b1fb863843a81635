package prompts

import (
	"fmt"
	"strings"
)

// ScriptInput carries everything the narration prompt needs.
type ScriptInput struct {
	Theme          string
	Mood           string
	Band           string
	ChallengeScore float64
	TargetWords    int
}

// bandDirectives describes the language expected at each band.
var bandDirectives = map[string]string{
	"A1": "Use only very common everyday words and short present-tense sentences of 5 to 8 words.",
	"A2": "Use common words and simple sentences of 6 to 10 words, with basic past and future tenses.",
	"B1": "Use everyday vocabulary with some topic words; sentences of 10 to 15 words with simple linking clauses.",
	"B2": "Use a wider vocabulary including some idioms; sentences of 12 to 20 words mixing clause types.",
	"C1": "Use precise and varied vocabulary; complex sentences of 15 to 25 words with subordinate clauses.",
	"C2": "Use sophisticated, nuanced vocabulary and any sentence structure a skilled native writer would.",
}

// Script builds the system prompt for lesson narration.
func Script(in ScriptInput) string {
	directive, ok := bandDirectives[in.Band]
	if !ok {
		directive = bandDirectives["B1"]
	}
	var b strings.Builder
	b.WriteString("You are a scriptwriter. Write a script for a single-narrator audio lesson.\n")
	fmt.Fprintf(&b, "The script must run 3 to 5 minutes when read aloud (around %d words).\n\n", in.TargetWords)
	fmt.Fprintf(&b, "Theme: %s\nMood: %s\n", in.Theme, in.Mood)
	fmt.Fprintf(&b, "Learner level: %s (challenge score %.1f of 100)\n", in.Band, in.ChallengeScore)
	b.WriteString(directive)
	b.WriteString("\n\nFormatting rules:\n")
	b.WriteString("1. The first line must be \"TITLE: <a short title>\".\n")
	b.WriteString("2. After the title, put every sentence on its own line. A sentence ends with '.', '?' or '!'.\n")
	b.WriteString("3. Do not include speaker names, scene directions or any text other than the narration.\n")
	return b.String()
}

// Vocab builds the per-sentence contextual vocabulary prompt. The model must
// answer with a JSON object.
func Vocab(sentence string) string {
	return `You are an English morphological and semantic analyzer.

For each unique word in the sentence below (case-insensitive, no duplicates) return:
- "word": the exact form as it appears in the sentence
- "pos": its part of speech
- "meaning": a short meaning that reflects this context; if the word is inflected, name the base form

Answer strictly as JSON: {"entries":[{"word":"...","pos":"...","meaning":"..."}]}
Do not omit any word. Do not add text outside the JSON.

Sentence:
` + sentence
}

// LevelJudgeInput carries the evidence for a level judgement.
type LevelJudgeInput struct {
	Context   string
	Current   string
	Reference string
	Evidence  string
}

// LevelJudge asks for three skill scores on the 0..300 scale.
func LevelJudge(in LevelJudgeInput) string {
	return fmt.Sprintf(`You assess English listening learners. Skill scores range from 0 to 300.
Band thresholds: A1 20, A2 60, B1 110, B2 160, C1 210, C2 260.

Context: %s
Current profile: %s
Rule-based estimate: %s
Evidence: %s

Answer strictly as JSON: {"lexical":number,"syntactic":number,"speed":number,"rationale":"one sentence"}`,
		in.Context, in.Current, in.Reference, in.Evidence)
}
