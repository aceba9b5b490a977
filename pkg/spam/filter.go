// Package spam is the two-stage prefilter that short-circuits junk before
// the expensive enrichment calls. Stage one applies structural heuristics;
// stage two asks a small LLM. The classifier fails open: a dropped real
// complaint costs more than a spam ticket slipping through.
package spam

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/freedomfin/fireroute/pkg/llm"
)

// Result is the prefilter verdict for one ticket.
type Result struct {
	IsSpam      bool    `json:"is_spam"`
	Probability float64 `json:"probability"`
	Reason      string  `json:"reason"`
}

var (
	urlRe = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)

	// Braille block, zero-width family and NBSP. Spammers pad with these to
	// defeat naive length checks.
	invisibleRe = regexp.MustCompile(`[\x{2800}-\x{28FF}\x{200B}\x{200C}\x{200D}\x{FEFF}\x{00A0}]`)

	promoRe = regexp.MustCompile(`(?i)` +
		`скидк|акци[яи]|промокод|распродаж|бесплатн|предложени|` +
		`sale|discount|promo|free|offer|buy now|limited|` +
		`реклам|оптов|со склад|доставк|заказ|регистрац|` +
		`минимальный заказ|специальные цены|выгодное предложение|` +
		`день инвестора`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

const classifierPrompt = `You are a spam filter for a financial broker's support inbox.

Angry or demanding client messages ("ВЕРНИТЕ ДЕНЬГИ!!!", "где мои 125$?!") are NOT spam — they are real complaints. Spam is advertising, promo offers, bulk sales, unrelated solicitation.

MESSAGE:
%s

Is this message spam? Answer with exactly one word: yes or no.`

// Classifier verdict probabilities. The single-word answer carries no
// confidence, so fixed values on either side of any sane threshold are used.
const (
	spamProbability    = 0.9
	notSpamProbability = 0.1
)

// Filter runs the two-stage spam decision.
type Filter struct {
	client    *llm.Client
	threshold float64
	logger    *slog.Logger
}

// New creates a filter. client may be nil to run structural checks only.
func New(client *llm.Client, threshold float64, logger *slog.Logger) *Filter {
	return &Filter{client: client, threshold: threshold, logger: logger}
}

// Check classifies one description. Structural overrides return immediately;
// otherwise the classifier decides. Never returns an error: transport
// failures degrade to a not-spam verdict.
func (f *Filter) Check(ctx context.Context, text string) Result {
	stripped := strings.TrimSpace(text)
	if len([]rune(stripped)) < 3 {
		return Result{IsSpam: true, Probability: 1.0,
			Reason: fmt.Sprintf("empty_or_too_short (%d chars)", len([]rune(stripped)))}
	}

	urls := len(urlRe.FindAllString(stripped, -1))
	invisible := len(invisibleRe.FindAllString(stripped, -1))
	promo := len(promoRe.FindAllString(stripped, -1))

	switch {
	case invisible > 10 && urls >= 1:
		return Result{IsSpam: true, Probability: 0.99,
			Reason: fmt.Sprintf("invisible_padding_with_url (invisible=%d, urls=%d)", invisible, urls)}
	case promo >= 3 && urls >= 1:
		return Result{IsSpam: true, Probability: 0.95,
			Reason: fmt.Sprintf("promo_keywords_with_url (promo=%d, urls=%d)", promo, urls)}
	case invisible > 30:
		return Result{IsSpam: true, Probability: 0.95,
			Reason: fmt.Sprintf("invisible_flood (invisible=%d)", invisible)}
	}

	if f.client == nil {
		return Result{IsSpam: false, Probability: 0.0, Reason: "structural_pass (classifier disabled)"}
	}
	return f.classify(ctx, stripped)
}

func (f *Filter) classify(ctx context.Context, text string) Result {
	cleaned := cleanForClassifier(text)

	content, err := f.client.CompleteTextOnce(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(classifierPrompt, cleaned)},
	}, 0.0, 5)
	if err != nil {
		f.logger.Warn("Spam classifier unavailable, failing open", "error", err)
		return Result{IsSpam: false, Probability: 0.0,
			Reason: fmt.Sprintf("classifier_failed (%v)", err)}
	}

	answer := strings.ToLower(strings.TrimSpace(string(content)))
	answer = strings.Trim(answer, ".!\"'")
	prob := notSpamProbability
	if strings.HasPrefix(answer, "yes") || strings.HasPrefix(answer, "да") {
		prob = spamProbability
	}
	return Result{
		IsSpam:      prob >= f.threshold,
		Probability: prob,
		Reason:      fmt.Sprintf("classifier (answer=%q)", answer),
	}
}

// cleanForClassifier strips URLs and invisible characters and truncates to
// 500 characters so the small model sees only substantive text.
func cleanForClassifier(text string) string {
	text = urlRe.ReplaceAllString(text, " ")
	text = invisibleRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	runes := []rune(text)
	if len(runes) > 500 {
		return string(runes[:500])
	}
	return text
}
