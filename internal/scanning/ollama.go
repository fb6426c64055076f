package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaSystemPrompt = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text in images and extract accurate information."

// Ollama implements Extractor and Answerer using Ollama
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama instance
// Recommended models for receipt extraction:
//   - llava:1.6
//   - qwen2-vl:7b (good OCR capabilities)
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow
		},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (o *Ollama) chat(ctx context.Context, messages []ollamaMessage) (string, error) {
	jsonData, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Stream:   false,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Extract analyzes a receipt and extracts its fields
func (o *Ollama) Extract(ctx context.Context, image []byte, contentType string, categories []string, coords *Coordinates) (*Extraction, error) {
	finalImageData, err := toPNG(image, contentType)
	if err != nil {
		return nil, err
	}

	text, err := o.chat(ctx, []ollamaMessage{
		{Role: "system", Content: ollamaSystemPrompt},
		{
			Role:    "user",
			Content: buildExtractionPrompt(categories, coords),
			Images:  []string{base64.StdEncoding.EncodeToString(finalImageData)},
		},
	})
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
func (o *Ollama) Ask(ctx context.Context, receiptsJSON []byte, question string) (string, error) {
	answer, err := o.chat(ctx, []ollamaMessage{
		{Role: "user", Content: buildAskPrompt(receiptsJSON, question)},
	})
	if err != nil {
		return "", fmt.Errorf("asking ollama: %w", err)
	}
	return answer, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
