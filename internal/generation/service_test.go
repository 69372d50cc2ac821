package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel records the messages it was invoked with and returns a canned
// reply or error.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.reply}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func humanPrompt(t *testing.T, messages []llms.MessageContent) string {
	t.Helper()
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				return text.Text
			}
		}
	}
	t.Fatalf("no human message in %v", messages)
	return ""
}

func systemPrompt(t *testing.T, messages []llms.MessageContent) string {
	t.Helper()
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeSystem {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				return text.Text
			}
		}
	}
	t.Fatalf("no system message in %v", messages)
	return ""
}

func TestRefineQueryRendersHistoryAndQuery(t *testing.T) {
	model := &fakeModel{reply: "  refined question  "}
	svc := NewService(model, nil)

	history := []Turn{
		{Role: "user", Content: "I bought a blender last week."},
		{Role: "assistant", Content: "How can I help with it?"},
	}
	template := "History:\n{conversation_history}\n\nQuestion: {user_query}"

	refined, err := svc.RefineQuery(context.Background(), "Can I return it?", history, template)
	if err != nil {
		t.Fatalf("RefineQuery() error = %v", err)
	}
	if refined != "refined question" {
		t.Fatalf("refined = %q, want trimmed model output", refined)
	}

	prompt := humanPrompt(t, model.messages)
	want := "History:\nUser: I bought a blender last week.\nAssistant: How can I help with it?\n\nQuestion: Can I return it?"
	if prompt != want {
		t.Fatalf("prompt = %q, want %q", prompt, want)
	}
	if got := systemPrompt(t, model.messages); got != refineSystemInstruction {
		t.Fatalf("system = %q, want refine instruction", got)
	}
}

func TestRefineQueryEmptyHistoryUsesPlaceholder(t *testing.T) {
	model := &fakeModel{reply: "refined"}
	svc := NewService(model, nil)

	_, err := svc.RefineQuery(context.Background(), "Do you offer refunds?", nil, "{conversation_history}|{user_query}")
	if err != nil {
		t.Fatalf("RefineQuery() error = %v", err)
	}

	prompt := humanPrompt(t, model.messages)
	if !strings.HasPrefix(prompt, emptyHistoryText+"|") {
		t.Fatalf("prompt = %q, want history placeholder, not an empty string", prompt)
	}
}

func TestRefineQueryRejectsUnknownRole(t *testing.T) {
	model := &fakeModel{reply: "refined"}
	svc := NewService(model, nil)

	history := []Turn{{Role: "system", Content: "be nice"}}
	_, err := svc.RefineQuery(context.Background(), "q", history, "{conversation_history} {user_query}")
	if !errors.Is(err, ErrUnsupportedRole) {
		t.Fatalf("error = %v, want ErrUnsupportedRole", err)
	}
	if model.messages != nil {
		t.Fatalf("model must not be invoked for invalid history")
	}
}

func TestGenerateAnswerRendersFAQAndQuery(t *testing.T) {
	model := &fakeModel{reply: "You can return it within 30 days."}
	svc := NewService(model, nil)

	template := "FAQ:\n{faq_content}\n\nQ: {refined_query}"
	answer, err := svc.GenerateAnswer(context.Background(), "return policy for blenders", "Returns accepted within 30 days.", template)
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if answer != "You can return it within 30 days." {
		t.Fatalf("answer = %q", answer)
	}

	prompt := humanPrompt(t, model.messages)
	want := "FAQ:\nReturns accepted within 30 days.\n\nQ: return policy for blenders"
	if prompt != want {
		t.Fatalf("prompt = %q, want %q", prompt, want)
	}
	if got := systemPrompt(t, model.messages); got != answerSystemInstruction {
		t.Fatalf("system = %q, want answer instruction", got)
	}
}

func TestUnknownPlaceholderFailsClosed(t *testing.T) {
	model := &fakeModel{reply: "should not be used"}
	svc := NewService(model, nil)

	_, err := svc.RefineQuery(context.Background(), "q", nil, "Hello {unexpected_name}")
	var templateErr *TemplateError
	if !errors.As(err, &templateErr) {
		t.Fatalf("error = %v, want *TemplateError", err)
	}
	if templateErr.Name != "unexpected_name" {
		t.Fatalf("Name = %q, want offending placeholder", templateErr.Name)
	}
	if model.messages != nil {
		t.Fatalf("model must not be invoked for a broken template")
	}
}

func TestProviderErrorBecomesGenerationError(t *testing.T) {
	model := &fakeModel{err: errors.New("provider exploded")}
	svc := NewService(model, nil)

	_, err := svc.GenerateAnswer(context.Background(), "q", "faq", "{faq_content} {refined_query}")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want *GenerationError", err)
	}
	if genErr.Op != "generate_answer" {
		t.Fatalf("Op = %q, want generate_answer", genErr.Op)
	}
}

func TestEmptyOutputBecomesGenerationError(t *testing.T) {
	model := &fakeModel{reply: "   \n  "}
	svc := NewService(model, nil)

	_, err := svc.RefineQuery(context.Background(), "q", nil, "{conversation_history} {user_query}")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want *GenerationError for empty output", err)
	}
}

func TestMockModelIsDeterministicAndNonEmpty(t *testing.T) {
	svc := NewService(NewMockModel(), nil)

	first, err := svc.RefineQuery(context.Background(), "Do you offer refunds?", nil, "{conversation_history} {user_query}")
	if err != nil {
		t.Fatalf("RefineQuery() error = %v", err)
	}
	second, err := svc.RefineQuery(context.Background(), "Do you offer refunds?", nil, "{conversation_history} {user_query}")
	if err != nil {
		t.Fatalf("RefineQuery() error = %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("mock output must be deterministic and non-empty, got %q / %q", first, second)
	}
}
