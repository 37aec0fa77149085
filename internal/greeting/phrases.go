package greeting

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phrasebook holds the candidate lines for every situation of the ritual.
// One line is picked uniformly at random each time a situation arises.
type Phrasebook struct {
	Opening           []string `yaml:"opening"`
	SecondaryOutreach []string `yaml:"secondary_outreach"`
	GreetingReply     []string `yaml:"greeting_reply"`
	StatusQuestion    []string `yaml:"status_question"`
	FollowUpQuestion  []string `yaml:"follow_up_question"`
	ResponderAnswer   []string `yaml:"responder_answer"`
	InitiatorAnswer   []string `yaml:"initiator_answer"`
	InquiryReminder   []string `yaml:"inquiry_reminder"`
	GiveUp            []string `yaml:"give_up"`
}

// DefaultPhrasebook returns the built-in phrase tables.
func DefaultPhrasebook() Phrasebook {
	return Phrasebook{
		Opening: []string{
			"Hello!",
			"Hi!",
		},
		SecondaryOutreach: []string{
			"I said HI!",
			"Excuse me, hello?",
			"Hellllloooooo!",
		},
		GreetingReply: []string{
			"Hello back at you!",
			"Hi",
			"Howdy there, pardner! 🤠",
		},
		StatusQuestion: []string{
			"How are you?",
			"How are you doing?",
			"What's happening?",
		},
		FollowUpQuestion: []string{
			"How about you?",
			"And yourself?",
		},
		ResponderAnswer: []string{
			"I'm fine.",
			"I'm good.",
			"I'm great, thanks for asking.",
		},
		InitiatorAnswer: []string{
			"I'm good.",
			"I'm fine, thanks for asking.",
			"Not too shabby.",
		},
		InquiryReminder: []string{
			"Feel free to ask how I'm doing!",
			"Don't you think you should ask how I'm doing?",
			"Oh, I guess my feelings don't matter. 😒",
		},
		GiveUp: []string{
			"Ok, forget you.",
			"Whatever.",
			"Screw you!",
			"Whatever, fine. Don't answer.",
		},
	}
}

// ParsePhrasebookYAML decodes a phrase table override. Situations missing from
// the document keep their default lines.
func ParsePhrasebookYAML(data []byte) (Phrasebook, error) {
	book := DefaultPhrasebook()
	if len(bytes.TrimSpace(data)) == 0 {
		return book, nil
	}
	var override Phrasebook
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Phrasebook{}, fmt.Errorf("greeting: decode phrasebook: %w", err)
	}
	book.merge(override)
	if err := book.Validate(); err != nil {
		return Phrasebook{}, err
	}
	return book, nil
}

// LoadPhrasebook reads a YAML phrase table from disk.
func LoadPhrasebook(path string) (Phrasebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Phrasebook{}, fmt.Errorf("greeting: read phrasebook %s: %w", path, err)
	}
	book, err := ParsePhrasebookYAML(data)
	if err != nil {
		return Phrasebook{}, fmt.Errorf("greeting: %s: %w", path, err)
	}
	return book, nil
}

// Validate checks that every situation has at least one non-blank line.
func (p Phrasebook) Validate() error {
	for name, lines := range p.situations() {
		if len(lines) == 0 {
			return fmt.Errorf("greeting: phrasebook situation %q has no lines", name)
		}
		for i, line := range lines {
			if strings.TrimSpace(line) == "" {
				return fmt.Errorf("greeting: phrasebook situation %q line %d is blank", name, i)
			}
		}
	}
	return nil
}

func (p Phrasebook) situations() map[string][]string {
	return map[string][]string{
		"opening":            p.Opening,
		"secondary_outreach": p.SecondaryOutreach,
		"greeting_reply":     p.GreetingReply,
		"status_question":    p.StatusQuestion,
		"follow_up_question": p.FollowUpQuestion,
		"responder_answer":   p.ResponderAnswer,
		"initiator_answer":   p.InitiatorAnswer,
		"inquiry_reminder":   p.InquiryReminder,
		"give_up":            p.GiveUp,
	}
}

func (p *Phrasebook) merge(o Phrasebook) {
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&p.Opening, o.Opening)
	pick(&p.SecondaryOutreach, o.SecondaryOutreach)
	pick(&p.GreetingReply, o.GreetingReply)
	pick(&p.StatusQuestion, o.StatusQuestion)
	pick(&p.FollowUpQuestion, o.FollowUpQuestion)
	pick(&p.ResponderAnswer, o.ResponderAnswer)
	pick(&p.InitiatorAnswer, o.InitiatorAnswer)
	pick(&p.InquiryReminder, o.InquiryReminder)
	pick(&p.GiveUp, o.GiveUp)
}
