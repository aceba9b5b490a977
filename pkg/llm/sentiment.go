package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/freedomfin/fireroute/pkg/models"
)

const sentimentPromptTemplate = `Analyze the sentiment of this customer support ticket for a financial broker.

TICKET TEXT:
%s

Classify sentiment as exactly one of:
- "positive" — grateful, satisfied, polite inquiry
- "neutral" — factual, no strong emotion, information request
- "negative" — angry, frustrated, threatening, dissatisfied

Consider:
- Exclamation marks and ALL CAPS indicate stronger emotion
- Threats (суд, жалоба, прокуратура) = negative
- Polite requests (пожалуйста, спасибо, буду благодарна) = positive
- Simple questions = neutral

Return ONLY valid JSON:
{
  "sentiment": "positive" | "neutral" | "negative",
  "confidence": 0.0-1.0
}`

var sentimentNormalize = map[string]models.Sentiment{
	"positive":    models.SentimentPositive,
	"позитивный":  models.SentimentPositive,
	"neutral":     models.SentimentNeutral,
	"нейтральный": models.SentimentNeutral,
	"negative":    models.SentimentNegative,
	"негативный":  models.SentimentNegative,
}

// SentimentResult is the normalized sentiment output.
type SentimentResult struct {
	Sentiment  models.Sentiment
	Confidence float64
	Elapsed    time.Duration
}

// SentimentAnalyzer performs the narrow sentiment call. Single attempt; the
// stage fails open to neutral rather than waiting out retries.
type SentimentAnalyzer struct {
	client *Client
}

// NewSentimentAnalyzer creates a sentiment analyzer over the given transport.
func NewSentimentAnalyzer(client *Client) *SentimentAnalyzer {
	return &SentimentAnalyzer{client: client}
}

// Analyze classifies the emotional tone of the text.
func (s *SentimentAnalyzer) Analyze(ctx context.Context, text string) (*SentimentResult, error) {
	start := time.Now()
	if text == "" {
		text = "(empty ticket body)"
	}

	messages := []Message{
		{Role: "system", Content: "You are a sentiment analysis system. Return only valid JSON."},
		{Role: "user", Content: fmt.Sprintf(sentimentPromptTemplate, text)},
	}

	content, err := s.client.CompleteJSONOnce(ctx, messages, 0.0, 100)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("sentiment classifier returned invalid JSON: %w", err)
	}

	sentiment, ok := sentimentNormalize[strings.ToLower(strings.TrimSpace(raw.Sentiment))]
	if !ok {
		sentiment = models.SentimentNeutral
	}
	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &SentimentResult{
		Sentiment:  sentiment,
		Confidence: confidence,
		Elapsed:    time.Since(start),
	}, nil
}

// DefaultSentiment is the fail-open result for a failed sentiment call.
func DefaultSentiment(elapsed time.Duration) *SentimentResult {
	return &SentimentResult{
		Sentiment:  models.SentimentNeutral,
		Confidence: 0.0,
		Elapsed:    elapsed,
	}
}
