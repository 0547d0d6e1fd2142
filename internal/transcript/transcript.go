package transcript

import "strings"

// State is a point-in-time view of the running translation.
type State struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	// Generation changes on every user-triggered mutation; recognition results
	// captured under an older generation are stale.
	Generation uint64 `json:"generation"`
	// Revision changes on every mutation of Text.
	Revision uint64 `json:"revision"`
}

// Accumulator merges recognized fragments into a transcript.
// It is not safe for concurrent use; the owning pipeline serializes access.
type Accumulator struct {
	text       string
	confidence float64
	language   string
	generation uint64
	revision   uint64
}

func New(language string) *Accumulator {
	return &Accumulator{language: language}
}

func (a *Accumulator) Generation() uint64 { return a.generation }

func (a *Accumulator) Revision() uint64 { return a.revision }

// Append adds a recognized fragment captured under generation gen. It returns
// false without touching state when gen is stale or the fragment is blank.
func (a *Accumulator) Append(gen uint64, text string, confidence float64) bool {
	if gen != a.generation {
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if a.text == "" {
		a.text = text
	} else {
		a.text = a.text + " " + text
	}
	a.confidence = confidence
	a.revision++
	return true
}

// Reset clears text and confidence and invalidates outstanding results.
func (a *Accumulator) Reset() {
	a.text = ""
	a.confidence = 0
	a.generation++
	a.revision++
}

// Replace overwrites the text and invalidates outstanding results.
func (a *Accumulator) Replace(text string) {
	a.text = text
	a.generation++
	a.revision++
}

// ReplaceIf replaces the text only if nothing changed it since revision rev.
func (a *Accumulator) ReplaceIf(rev uint64, text string) bool {
	if rev != a.revision {
		return false
	}
	a.Replace(text)
	return true
}

// Invalidate marks outstanding results stale without changing the text.
func (a *Accumulator) Invalidate() { a.generation++ }

func (a *Accumulator) SetLanguage(language string) { a.language = language }

func (a *Accumulator) Snapshot() State {
	return State{
		Text:       a.text,
		Confidence: a.confidence,
		Language:   a.language,
		Generation: a.generation,
		Revision:   a.revision,
	}
}
