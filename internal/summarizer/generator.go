package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// Content is a generated recap of one chunk of conversation.
type Content struct {
	Headline     string
	BulletPoints []string
	Tag          string // one of Categories, or empty when unclassified
	FactChecks   []string
}

// Outcome is the tagged result of a summarization attempt. Insufficient
// means the model judged the fragments too thin to summarize; it is an
// expected, silent outcome, not an error. Content is set iff Insufficient
// is false.
type Outcome struct {
	Insufficient bool
	Content      *Content
}

// Chatter is the chat-completion surface the generator needs from the
// OpenAI client.
type Chatter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator wraps the external LLM into one operation: concatenated chunk
// text in, recap or insufficient-context out. It issues two independent
// structured-output requests (summary and fact check) and merges them.
type Generator struct {
	client         Chatter
	summaryModel   string
	factCheckModel string
	now            func() time.Time
}

// New creates a Generator backed by the OpenAI API.
func New(apiKey, summaryModel, factCheckModel string) *Generator {
	return NewWithClient(openai.NewClient(apiKey), summaryModel, factCheckModel)
}

// NewWithClient creates a Generator with an explicit client (tests inject a
// fake here, or a client pointed at a compatible endpoint).
func NewWithClient(client Chatter, summaryModel, factCheckModel string) *Generator {
	return &Generator{
		client:         client,
		summaryModel:   summaryModel,
		factCheckModel: factCheckModel,
		now:            time.Now,
	}
}

type recapPart struct {
	Headline     string   `json:"headline"`
	BulletPoints []string `json:"bullet_points"`
	Tag          string   `json:"tag"`
}

type factCheckPart struct {
	FactChecks []string `json:"fact_checks"`
}

// Summarize produces a recap for the concatenated chunk text. The two LLM
// calls run concurrently; any hard failure (transport, provider, malformed
// JSON) fails the whole operation. The INSUFFICIENT_CONTEXT headline
// sentinel is mapped to Outcome.Insufficient and discards the fact-check
// result.
func (g *Generator) Summarize(ctx context.Context, text string) (Outcome, error) {
	now := g.now()

	var recap recapPart
	var facts factCheckPart

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		raw, err := g.complete(ctx, g.summaryModel, recapPrompt(text, now))
		if err != nil {
			return fmt.Errorf("summary call: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &recap); err != nil {
			return fmt.Errorf("parsing summary output: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		raw, err := g.complete(ctx, g.factCheckModel, factCheckPrompt(text, now))
		if err != nil {
			return fmt.Errorf("fact check call: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &facts); err != nil {
			return fmt.Errorf("parsing fact check output: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Outcome{}, err
	}

	if recap.Headline == insufficientContextSentinel {
		return Outcome{Insufficient: true}, nil
	}
	if recap.Headline == "" || len(recap.BulletPoints) == 0 {
		return Outcome{}, fmt.Errorf("summary output missing headline or bullet points")
	}

	// An out-of-enum tag falls back to the catch-all bucket; an empty tag
	// stays empty (unclassified).
	tag := recap.Tag
	if tag != "" && !validTag(tag) {
		tag = "other"
	}

	return Outcome{Content: &Content{
		Headline:     recap.Headline,
		BulletPoints: recap.BulletPoints,
		Tag:          tag,
		FactChecks:   facts.FactChecks,
	}}, nil
}

func (g *Generator) complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0.5,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
