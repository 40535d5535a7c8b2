package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Question is one entry in the shared, ordered puzzle sequence. A player's
// score doubles as their index into this sequence.
type Question struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

var defaultQuestions = []Question{
	{Question: "Enter next to start", Answer: "next"},
	{Question: "REGULAR is to RALUGER as 90210 is to:", Answer: "01209"},
	{Question: "If HISTORY = HIORSTY, then 4623581 = ?", Answer: "12345678"},
	{Question: "I am an odd number. Take away one letter, and I become even. What am I?", Answer: "seven"},
	{Question: "I am a three-digit number. My tens digit is five more than my ones digit...", Answer: "194"},
	{Question: "Forward, I am heavy. But backward, I'm not. What am I?", Answer: "ton"},
}

// loadQuestions returns the built-in question set, or the contents of a
// JSON file ([{"question": ..., "answer": ...}, ...]) when path is set.
func loadQuestions(path string) ([]Question, error) {
	if path == "" {
		return defaultQuestions, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading question file: %w", err)
	}

	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parsing question file %q: %w", path, err)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("question file %q contains no questions", path)
	}
	for i, q := range questions {
		if q.Question == "" || q.Answer == "" {
			return nil, fmt.Errorf("question file %q: entry %d is missing a question or answer", path, i)
		}
	}

	return questions, nil
}
