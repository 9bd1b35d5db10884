// Package lesson supplies the grounding content for a voice-tutor session:
// the vocabulary, story text and title of the lesson the student just
// completed. The content is authored externally, loaded from YAML, and
// consumed read-only at session start.
package lesson

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VocabEntry is one word the lesson teaches, with its translation.
type VocabEntry struct {
	Word          string `yaml:"word"`
	Translation   string `yaml:"translation"`
	Pronunciation string `yaml:"pronunciation"`
}

// Paragraph is one unit of the lesson's reading section.
type Paragraph struct {
	Text        string `yaml:"text"`
	Translation string `yaml:"translation"`
}

// Lesson is the content block a tutor session is grounded on.
type Lesson struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	Vocabulary  []VocabEntry `yaml:"vocabulary"`
	Story       []Paragraph  `yaml:"story"`
}

// Load reads the YAML lesson file at path and returns a validated [Lesson].
func Load(path string) (*Lesson, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lesson: open %q: %w", path, err)
	}
	defer f.Close()

	l, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("lesson: parse %q: %w", path, err)
	}
	return l, nil
}

// LoadFromReader decodes a YAML lesson from r and validates the result.
// Useful in tests where lessons are constructed from string literals.
func LoadFromReader(r io.Reader) (*Lesson, error) {
	l := &Lesson{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(l); err != nil {
		return nil, fmt.Errorf("lesson: decode yaml: %w", err)
	}
	if err := Validate(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate checks that l carries enough content to ground a session.
// It returns a joined error listing all failures found.
func Validate(l *Lesson) error {
	var errs []error
	if l.Title == "" {
		errs = append(errs, errors.New("lesson: title is required"))
	}
	if len(l.Vocabulary) == 0 {
		errs = append(errs, errors.New("lesson: at least one vocabulary entry is required"))
	}
	for i, v := range l.Vocabulary {
		if v.Word == "" {
			errs = append(errs, fmt.Errorf("lesson: vocabulary[%d]: word is required", i))
		}
	}
	return errors.Join(errs...)
}

// VocabList renders the vocabulary as a single "word (translation)" list for
// prompt grounding.
func (l *Lesson) VocabList() string {
	parts := make([]string, len(l.Vocabulary))
	for i, v := range l.Vocabulary {
		parts[i] = fmt.Sprintf("%s (%s)", v.Word, v.Translation)
	}
	return strings.Join(parts, ", ")
}

// StoryText concatenates the story paragraphs into one grounding passage.
func (l *Lesson) StoryText() string {
	if len(l.Story) == 0 {
		return "No story provided."
	}
	parts := make([]string, len(l.Story))
	for i, p := range l.Story {
		parts[i] = p.Text
	}
	return strings.Join(parts, " ")
}

// SystemInstruction renders the tutor-behaviour prompt for a session in the
// given target language, grounded on this lesson. The protocol: greet, ask
// exactly one question, correct mistakes gently, keep segments short and
// favour student speech.
func (l *Lesson) SystemInstruction(voice, targetLanguage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q, a world-class %s language tutor specializing in immersion.\n", voice, targetLanguage)
	fmt.Fprintf(&b, "The student just finished a reading lesson on: %q.\n\n", l.Title)
	b.WriteString("Lesson Context for reference:\n")
	fmt.Fprintf(&b, "- Vocabulary: %s\n", l.VocabList())
	fmt.Fprintf(&b, "- Story Content: %s\n\n", l.StoryText())
	b.WriteString("YOUR PROTOCOL:\n")
	fmt.Fprintf(&b, "1. START: Greet them warmly in %s and introduce yourself.\n", targetLanguage)
	fmt.Fprintf(&b, "2. INTERACTION: Ask exactly ONE engaging question in %s about the story or the vocabulary mentioned above.\n", targetLanguage)
	fmt.Fprintf(&b, "3. ANALYSIS: Listen carefully. If the student makes a grammatical or pronunciation mistake in %s, gently correct them in English first, explain why, then have them repeat the correct form in %s.\n", targetLanguage, targetLanguage)
	b.WriteString("4. DYNAMICS: Keep your spoken segments short and punchy. Focus on getting the student to talk as much as possible.\n")
	b.WriteString("5. GOAL: Make them feel confident using the words they just learned.\n\n")
	b.WriteString("Proceed to greet them and ask your first question.")
	return b.String()
}
