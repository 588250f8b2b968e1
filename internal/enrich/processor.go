package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rotaryline/guestbook/internal/audio"
)

// Result is the combined transcription + classification outcome for one
// recording.
type Result struct {
	Transcription string
	SpeakerNames  []string
	Category      string
	Summary       string
	Confidence    float64
}

// Processor turns an audio file into an enrichment result.
type Processor interface {
	Process(ctx context.Context, path, filename string) (*Result, error)
}

// ProcessorOptions tunes the OpenAI pipeline.
type ProcessorOptions struct {
	Model            string
	Language         string
	MaxRetries       int
	RetryDelay       time.Duration
	CompressAudio    bool
	TargetSampleRate int
	IgnoredNames     []string
	Categories       []string
}

// OpenAIProcessor transcribes recordings with Whisper and classifies the
// transcript with a chat model. API calls use a small fixed retry budget
// with a fixed delay; exhausting it surfaces the last error to the caller.
type OpenAIProcessor struct {
	client *openai.Client
	opts   ProcessorOptions

	sleep    func(time.Duration)
	compress func(path string) (string, error)
}

func NewOpenAIProcessor(apiKey string, opts ProcessorOptions) *OpenAIProcessor {
	return NewOpenAIProcessorWithConfig(openai.DefaultConfig(apiKey), opts)
}

func NewOpenAIProcessorWithConfig(config openai.ClientConfig, opts ProcessorOptions) *OpenAIProcessor {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}

	p := &OpenAIProcessor{
		client: openai.NewClientWithConfig(config),
		opts:   opts,
		sleep:  time.Sleep,
	}
	p.compress = func(path string) (string, error) {
		return audio.Compress(path, opts.TargetSampleRate, true)
	}
	return p
}

func (p *OpenAIProcessor) Process(ctx context.Context, path, filename string) (*Result, error) {
	upload := path
	if p.opts.CompressAudio {
		compressed, err := p.compress(path)
		if err != nil {
			// Upload the original rather than abort.
			slog.Warn("enrich: compression failed, uploading original", "file", filename, "error", err)
		} else {
			upload = compressed
			defer func() { _ = os.Remove(compressed) }()
		}
	}

	transcript, err := p.transcribe(ctx, upload)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", filename, err)
	}
	if len(strings.TrimSpace(transcript)) < 10 {
		return nil, fmt.Errorf("transcription empty or too short for %s", filename)
	}

	meta, err := p.classify(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", filename, err)
	}

	return &Result{
		Transcription: strings.TrimSpace(transcript),
		SpeakerNames:  filterNames(meta.Names, p.opts.IgnoredNames),
		Category:      meta.Category,
		Summary:       meta.Summary,
		Confidence:    clamp01(meta.Confidence),
	}, nil
}

func (p *OpenAIProcessor) transcribe(ctx context.Context, path string) (string, error) {
	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Format:   openai.AudioResponseFormatText,
	}
	if p.opts.Language != "" && p.opts.Language != "auto" {
		req.Language = p.opts.Language
	}

	var lastErr error
	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		resp, err := p.client.CreateTranscription(ctx, req)
		if err == nil {
			return resp.Text, nil
		}
		lastErr = err
		if attempt < p.opts.MaxRetries-1 {
			slog.Warn("enrich: transcription attempt failed, retrying", "attempt", attempt+1, "error", err)
			p.sleep(p.opts.RetryDelay)
		}
	}
	return "", fmt.Errorf("whisper failed after %d attempts: %w", p.opts.MaxRetries, lastErr)
}

type classification struct {
	Names      []string `json:"names"`
	Category   string   `json:"category"`
	Summary    string   `json:"summary"`
	Confidence float64  `json:"confidence"`
}

func (p *OpenAIProcessor) classify(ctx context.Context, transcript string) (classification, error) {
	req := openai.ChatCompletionRequest{
		Model: p.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: p.classifyPrompt(transcript)},
		},
		MaxTokens: 800,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr error
	for attempt := 0; attempt < p.opts.MaxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return classification{}, fmt.Errorf("no choices in response")
			}
			content := resp.Choices[0].Message.Content
			var meta classification
			if err := json.Unmarshal([]byte(content), &meta); err != nil {
				return classification{}, fmt.Errorf("parse classification %q: %w", truncate(content, 200), err)
			}
			return meta, nil
		}
		lastErr = err
		if attempt < p.opts.MaxRetries-1 {
			slog.Warn("enrich: classification attempt failed, retrying", "attempt", attempt+1, "error", err)
			p.sleep(p.opts.RetryDelay)
		}
	}
	return classification{}, fmt.Errorf("classification failed after %d attempts: %w", p.opts.MaxRetries, lastErr)
}

func (p *OpenAIProcessor) classifyPrompt(transcript string) string {
	categories := strings.Join(p.opts.Categories, ", ")
	if categories == "" {
		categories = "other"
	}

	var ignored string
	if len(p.opts.IgnoredNames) > 0 {
		ignored = fmt.Sprintf("\nNever include these names (they are the event hosts, not guests): %s.",
			strings.Join(p.opts.IgnoredNames, ", "))
	}

	return fmt.Sprintf(`Analyze this event guestbook message and extract:

1. Speaker names mentioned. Only include people speaking or introducing themselves as guests, never recipients or people being addressed.%s
2. Emotional category (choose one: %s)
3. A brief 4-7 word title summarizing the message
4. Confidence score (0.0-1.0) based on clarity

Transcription:
%s

Respond ONLY with valid JSON in this exact format:
{"names": ["John Smith"], "category": "joyful", "summary": "Brief message title here", "confidence": 0.95}`,
		ignored, categories, transcript)
}

// filterNames drops host names case-insensitively, including partial
// matches, so "Hi Cam, this is Mike" only yields Mike.
func filterNames(names, ignored []string) []string {
	if len(ignored) == 0 {
		return names
	}

	lowered := make([]string, len(ignored))
	for i, name := range ignored {
		lowered[i] = strings.ToLower(name)
	}

	kept := make([]string, 0, len(names))
	for _, name := range names {
		nameLower := strings.ToLower(name)
		skip := false
		for _, ig := range lowered {
			if strings.Contains(nameLower, ig) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, name)
		}
	}
	return kept
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
