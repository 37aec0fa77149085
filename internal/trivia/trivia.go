// Package trivia answers short factual questions addressed to the bot.
package trivia

import "context"

// Answerer produces an answer for a question, or reports that it has none.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, bool)
}

// Forgetter is implemented by answerers that keep conversational memory.
type Forgetter interface {
	Forget()
}

// Chain tries each answerer in order and returns the first answer.
type Chain []Answerer

// Answer implements Answerer.
func (c Chain) Answer(ctx context.Context, question string) (string, bool) {
	for _, a := range c {
		if a == nil {
			continue
		}
		if ctx.Err() != nil {
			return "", false
		}
		if answer, ok := a.Answer(ctx, question); ok {
			return answer, true
		}
	}
	return "", false
}

// Forget clears the memory of every answerer that has one.
func (c Chain) Forget() {
	for _, a := range c {
		if f, ok := a.(Forgetter); ok {
			f.Forget()
		}
	}
}
