package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Extractor and Answerer using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini instance
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// generate sends parts and concatenates the text of the first candidate
func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return strings.TrimSpace(responseText.String()), nil
}

// Extract analyzes a receipt and extracts its fields
func (g *Gemini) Extract(ctx context.Context, image []byte, contentType string, categories []string, coords *Coordinates) (*Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	finalImageData, err := toPNG(image, contentType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects the format suffix, and everything is PNG by now
	text, err := g.generate(ctx,
		genai.ImageData("png", finalImageData),
		genai.Text(buildExtractionPrompt(categories, coords)),
	)
	if err != nil {
		return nil, err
	}

	data, err := parseExtraction(text, categories)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return data, nil
}

// Ask answers a question about the given receipts
func (g *Gemini) Ask(ctx context.Context, receiptsJSON []byte, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	answer, err := g.generate(ctx, genai.Text(buildAskPrompt(receiptsJSON, question)))
	if err != nil {
		return "", fmt.Errorf("asking gemini: %w", err)
	}
	return answer, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
