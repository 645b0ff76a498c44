package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundAnswer is the fixed reply when the context does not hold the answer.
const NotFoundAnswer = "Answer is not available in the context"

const groundingInstruction = `You are provided with CONTEXT and must answer the QUESTION in detail.
If the answer is not in the context, say "` + NotFoundAnswer + `".`

const contextSeparator = "\n---\n"

// Synthesizer asks a chat model to answer strictly from retrieved passages.
type Synthesizer struct {
	completer Completer
}

func NewSynthesizer(completer Completer) *Synthesizer {
	return &Synthesizer{completer: completer}
}

// Answer returns a grounded answer, or Grounded=false with NotFoundAnswer when
// the model reports the context does not contain it. No passages short-circuits
// to the not-found answer without calling the model.
func (s *Synthesizer) Answer(ctx context.Context, question string, passages []string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question is empty", ErrInvalidParameters)
	}

	contextBlock := buildContext(passages)
	if contextBlock == "" {
		return Answer{Text: NotFoundAnswer}, nil
	}

	messages := []Message{
		{Role: RoleSystem, Content: groundingInstruction},
		{Role: RoleUser, Content: "CONTEXT:\n" + contextBlock + "\n\nQUESTION:\n" + question + "\n\nANSWER:"},
	}
	reply, err := s.completer.Complete(ctx, messages)
	if err != nil {
		if errors.Is(err, ErrSynthesis) || errors.Is(err, context.Canceled) {
			return Answer{}, err
		}
		return Answer{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Answer{}, fmt.Errorf("%w: model returned an empty answer", ErrSynthesis)
	}
	if IsNotFound(reply) {
		return Answer{Text: reply}, nil
	}
	return Answer{Text: reply, Grounded: true}, nil
}

// IsNotFound reports whether text carries the not-found sentinel.
func IsNotFound(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(NotFoundAnswer))
}

func buildContext(passages []string) string {
	kept := make([]string, 0, len(passages))
	for _, p := range passages {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, contextSeparator)
}
