package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mfiorillo/faqbot/internal/observability"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	refineSystemInstruction = "You are a helpful assistant that refines user queries."
	answerSystemInstruction = "You are a helpful customer support assistant."

	// Rendered into the prompt when the caller supplies no history.
	emptyHistoryText = "No previous conversation."
)

// Turn is a single message of the caller-supplied conversation history,
// ordered oldest first.
type Turn struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ErrUnsupportedRole marks a history turn whose role is neither "user" nor
// "assistant". Unknown roles are rejected rather than folded into a binary
// label.
var ErrUnsupportedRole = errors.New("unsupported conversation role")

// GenerationError reports a failed or empty model invocation.
type GenerationError struct {
	Op  string // "refine_query" or "generate_answer"
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Service renders prompt templates and invokes the language model. It holds
// no per-request state and is safe for concurrent use. It never retries:
// retry policy, if any, belongs to the caller.
type Service struct {
	model   llms.Model
	metrics *observability.Metrics
}

func NewService(model llms.Model, metrics *observability.Metrics) *Service {
	return &Service{model: model, metrics: metrics}
}

// RefineQuery renders the query-refinement template with the flattened
// conversation history and the raw user query, invokes the model, and returns
// the trimmed output.
func (s *Service) RefineQuery(ctx context.Context, userQuery string, history []Turn, template string) (string, error) {
	historyText, err := FormatHistory(history)
	if err != nil {
		return "", err
	}

	prompt, err := renderTemplate(template, map[string]string{
		"conversation_history": historyText,
		"user_query":           userQuery,
	})
	if err != nil {
		return "", err
	}

	return s.invoke(ctx, "refine_query", refineSystemInstruction, prompt)
}

// GenerateAnswer renders the answer template with the FAQ content and the
// refined query, invokes the model, and returns the trimmed output.
func (s *Service) GenerateAnswer(ctx context.Context, refinedQuery, faqContent, template string) (string, error) {
	prompt, err := renderTemplate(template, map[string]string{
		"faq_content":   faqContent,
		"refined_query": refinedQuery,
	})
	if err != nil {
		return "", err
	}

	return s.invoke(ctx, "generate_answer", answerSystemInstruction, prompt)
}

// FormatHistory flattens ordered turns into "<Role>: <content>" lines, oldest
// first. Empty history renders as a fixed placeholder so the template never
// receives an empty substitution.
func FormatHistory(history []Turn) (string, error) {
	if len(history) == 0 {
		return emptyHistoryText, nil
	}

	lines := make([]string, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case RoleUser:
			lines = append(lines, "User: "+turn.Content)
		case RoleAssistant:
			lines = append(lines, "Assistant: "+turn.Content)
		default:
			return "", fmt.Errorf("%w: %q", ErrUnsupportedRole, turn.Role)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) invoke(ctx context.Context, op, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := s.model.GenerateContent(ctx, messages)
	if err != nil {
		s.countInvocation(op, "error")
		return "", &GenerationError{Op: op, Err: err}
	}
	if len(resp.Choices) == 0 {
		s.countInvocation(op, "error")
		return "", &GenerationError{Op: op, Err: errors.New("no response choices")}
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		s.countInvocation(op, "empty")
		return "", &GenerationError{Op: op, Err: errors.New("model returned empty output")}
	}

	s.countInvocation(op, "ok")
	return text, nil
}

func (s *Service) countInvocation(op, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ModelInvocations.WithLabelValues(op, outcome).Inc()
}
