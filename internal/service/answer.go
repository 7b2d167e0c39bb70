package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/ragdesk/internal/domain"
)

// DefaultMaxContextChars bounds the context sent to the chat model.
const DefaultMaxContextChars = 12000

const answerSystemPrompt = "Use the following pieces of context to answer the question at the end. " +
	"Answer only from the context. If the context does not contain the answer, say that you don't know; " +
	"do not try to make up an answer."

// ChatClient generates a reply to a prompt.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnswerSynthesizer turns retrieved chunks and a question into an answer.
type AnswerSynthesizer struct {
	chat            ChatClient
	maxContextChars int
}

func NewAnswerSynthesizer(chat ChatClient, maxContextChars int) *AnswerSynthesizer {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &AnswerSynthesizer{chat: chat, maxContextChars: maxContextChars}
}

// Answer asks the chat model to answer question from the content of matches.
func (s *AnswerSynthesizer) Answer(ctx context.Context, question string, matches []domain.QueryMatch) (string, error) {
	passages := BuildContext(matches, s.maxContextChars)

	reply, err := s.chat.Complete(ctx, answerSystemPrompt, buildAnswerPrompt(passages, question))
	if err != nil {
		return "", domain.ErrSynthesisFailed.WithCause(err)
	}
	return strings.TrimSpace(reply), nil
}

func buildAnswerPrompt(passages, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\nHelpful Answer:", passages, question)
}

// BuildContext joins match contents with a single space in the given order.
// Whole chunks are added while the total stays within maxChars runes; a first
// chunk longer than maxChars is truncated.
func BuildContext(matches []domain.QueryMatch, maxChars int) string {
	var b strings.Builder
	used := 0
	for i, m := range matches {
		content := m.Metadata.Content
		n := utf8.RuneCountInString(content)

		sep := 0
		if i > 0 {
			sep = 1
		}

		if used+sep+n > maxChars {
			if i == 0 {
				b.WriteString(string([]rune(content)[:maxChars]))
			}
			break
		}

		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(content)
		used += sep + n
	}
	return b.String()
}
