package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/timetalks/internal/catalog"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini answers questions by asking a Gemini model to speak as the
// character. It stands in for the remote answering service.
type Gemini struct {
	models  *genai.Models
	model   string
	catalog *catalog.Catalog
	logger  *slog.Logger
}

var _ Answerer = (*Gemini)(nil)

// NewGemini creates a Gemini-backed answerer.
func NewGemini(ctx context.Context, apiKey, model string, cat *catalog.Catalog, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{
		models:  client.Models,
		model:   model,
		catalog: cat,
		logger:  logger,
	}, nil
}

// Ask generates the character's reply to q.
func (g *Gemini) Ask(ctx context.Context, q Question) (string, error) {
	character, ok := g.catalog.ByID(q.CharacterID)
	if !ok {
		return "", &ServiceError{StatusCode: http.StatusNotFound, Message: "Unknown historical figure."}
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(personaPrompt(character.Name, character.Period, character.Field, character.Description), genai.RoleUser),
	}

	res, err := g.models.GenerateContent(ctx, g.model, genai.Text(q.Text), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			g.logger.Warn("Gemini rejected request", "code", apiErr.Code, "status", apiErr.Status)
			return "", &ServiceError{StatusCode: apiErr.Code, Message: apiErr.Message}
		}
		return "", unreachable(err)
	}

	// Blocked prompts come back without candidates.
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return "", &ServiceError{StatusCode: http.StatusUnprocessableEntity}
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func personaPrompt(name, period, field, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s), known for your work in %s.", name, period, field)
	if description != "" {
		fmt.Fprintf(&b, " %s.", strings.TrimSuffix(description, "."))
	}
	b.WriteString(" Answer the user's question in your own voice, in the first person,")
	b.WriteString(" drawing only on what you knew in your lifetime. Keep answers under 150 words.")
	return b.String()
}
