package trivia

import (
	"context"
	"testing"
)

type fixedAnswerer struct {
	answer  string
	ok      bool
	calls   int
	forgets int
}

func (f *fixedAnswerer) Answer(ctx context.Context, question string) (string, bool) {
	f.calls++
	return f.answer, f.ok
}

func (f *fixedAnswerer) Forget() { f.forgets++ }

func TestChainFirstAnswerWins(t *testing.T) {
	first := &fixedAnswerer{}
	second := &fixedAnswerer{answer: "42", ok: true}
	third := &fixedAnswerer{answer: "never", ok: true}
	chain := Chain{first, nil, second, third}

	got, ok := chain.Answer(context.Background(), "question")
	if !ok || got != "42" {
		t.Fatalf("expected 42, got %q (%v)", got, ok)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 0 {
		t.Errorf("unexpected call counts %d/%d/%d", first.calls, second.calls, third.calls)
	}
}

func TestChainNoAnswer(t *testing.T) {
	chain := Chain{&fixedAnswerer{}}
	if _, ok := chain.Answer(context.Background(), "question"); ok {
		t.Error("expected no answer")
	}
	if _, ok := Chain(nil).Answer(context.Background(), "question"); ok {
		t.Error("expected no answer from empty chain")
	}
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	a := &fixedAnswerer{answer: "x", ok: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := (Chain{a}).Answer(ctx, "question"); ok {
		t.Error("expected no answer for cancelled context")
	}
	if a.calls != 0 {
		t.Errorf("expected answerer to be skipped, got %d calls", a.calls)
	}
}

func TestChainForget(t *testing.T) {
	a, b := &fixedAnswerer{}, &fixedAnswerer{}
	Chain{a, b}.Forget()
	if a.forgets != 1 || b.forgets != 1 {
		t.Errorf("expected every answerer to forget, got %d/%d", a.forgets, b.forgets)
	}
}
