// Package llm wraps the Gemini API for the three collaborator calls the
// system makes: narrative summarization, bias analysis, and text embedding.
// None of these run inside the clustering core; they operate on stable
// cluster membership after assignment.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/genai"

	"narrascope/internal/core"
	"narrascope/internal/embed"
)

const (
	// DefaultModel is the default Gemini model for summaries and bias analysis.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings.
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka).
	DefaultEmbeddingDimensions = int32(768)

	// SummarizePromptTemplate produces the short neutral narrative summaries
	// shown in the dashboard list view.
	SummarizePromptTemplate = `You write SHORT, neutral summaries of clusters of news headlines and social-media posts about a geopolitical conflict. Summarize the following cluster in ONE sentence. Write only the sentence, no preamble.

%s`

	// BiasPromptTemplate asks for a structured bias assessment of a cluster.
	BiasPromptTemplate = `Analyze the following cluster of news headlines and social-media posts for bias. Respond with JSON only, matching exactly:
{
  "indicators": {"framing": "...", "loaded_language": "...", "source_selection": "..."},
  "blind_spots": ["..."],
  "confidence_score": 0.0
}

Posts:
%s`
)

// Client is a Gemini API client.
type Client struct {
	modelName string
	gClient   *genai.Client
}

// NewClient creates a new Gemini client. The API key is read from the
// GEMINI_API_KEY environment variable, falling back to gemini.api_key in the
// config file.
func NewClient(ctx context.Context, modelName string) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = viper.GetString("gemini.api_key")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required: set GEMINI_API_KEY or gemini.api_key in the config file")
	}

	if modelName == "" {
		modelName = viper.GetString("gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{modelName: modelName, gClient: gClient}, nil
}

// generateContent wraps the SDK's GenerateContent call for a single-turn
// text prompt.
func (c *Client) generateContent(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// SummarizeCluster turns up to 20 member texts into a one-sentence neutral
// summary suitable for the narrative list view.
func (c *Client) SummarizeCluster(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", fmt.Errorf("no texts to summarize")
	}
	if len(texts) > 20 {
		texts = texts[:20]
	}

	prompt := fmt.Sprintf(SummarizePromptTemplate, strings.Join(texts, "\n\n"))
	summary, err := c.generateContent(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to summarize cluster: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// AnalyzeBias produces a structured bias report for a cluster's member texts.
func (c *Client) AnalyzeBias(ctx context.Context, texts []string) (*core.BiasReport, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to analyze")
	}
	if len(texts) > 20 {
		texts = texts[:20]
	}

	prompt := fmt.Sprintf(BiasPromptTemplate, strings.Join(texts, "\n\n"))
	raw, err := c.generateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze bias: %w", err)
	}

	report, err := parseBiasResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bias response: %w", err)
	}
	report.Model = c.modelName
	report.CreatedAt = time.Now().UTC()
	return report, nil
}

// parseBiasResponse extracts the JSON object from a model response, tolerating
// markdown code fences around it.
func parseBiasResponse(raw string) (*core.BiasReport, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var payload struct {
		Indicators map[string]string `json:"indicators"`
		BlindSpots []string          `json:"blind_spots"`
		Confidence float64           `json:"confidence_score"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}

	return &core.BiasReport{
		Indicators: payload.Indicators,
		BlindSpots: payload.BlindSpots,
		Confidence: payload.Confidence,
	}, nil
}

// Embed generates a vector embedding for the given text using Gemini's
// embedding model, with Matryoshka output truncated to 768 dimensions.
// Provider failures are wrapped in embed.ErrUnavailable so ingestion can
// apply its own retry policy.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	// Truncate very long texts; the embedding model has token limits.
	if len(text) > 8000 {
		text = text[:8000]
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	dims := DefaultEmbeddingDimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, DefaultEmbeddingModel, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embed.ErrUnavailable, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding values returned", embed.ErrUnavailable)
	}

	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}
	return embedding, nil
}

// Dimensions reports the embedding vector length this client produces.
func (c *Client) Dimensions() int {
	return int(DefaultEmbeddingDimensions)
}
