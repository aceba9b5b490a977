package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/freedomfin/fireroute/pkg/models"
)

const analysisPromptTemplate = `You are a ticket classification system for a financial broker in Kazakhstan.
Analyze the following support ticket and return a JSON response.

TICKET TEXT:
%s

%s

CLIENT AGE: %s
CLIENT SEGMENT: %s

INSTRUCTIONS:

1. **type** — classify into EXACTLY one of:
   - "complaint" (Жалоба — client unhappy about service quality, delays, errors)
   - "data_change" (Смена данных — phone/email/password change, document update, personal info)
   - "consultation" (Консультация — question, how-to, information request)
   - "formal_claim" (Претензия — demanding money back, threatening legal action)
   - "app_malfunction" (Неработоспособность приложения — can't login, crashes, technical bugs)
   - "fraud" (Мошеннические действия — unauthorized access, suspicious transactions)
   - "spam" (Спам — advertising, promo. NOT angry clients!)

   CRITICAL: "ВЕРНИТЕ ДЕНЬГИ!!!" or "125$ не пришло" are NOT spam — they are claims/complaints.

2. **language** — detect the language:
   - Labels: "RU" (Russian), "KZ" (Kazakh), "ENG" (English)
   - Turkic non-Kazakh (Uzbek, Turkish): age > 45 → "KZ", age ≤ 45 → "ENG"
   - Non-Turkic non-Russian (Portuguese, German): always "ENG"
   - Transliterated Cyrillic in Latin → detect underlying language, apply rules above
   - Mixed: primary = language of substantive content (ignore signatures)
   Return: language_label, language_actual, language_is_mixed, language_note

3. **summary** — 1-2 sentences in Russian: what the client needs and a recommended next action.

4. **explanation** — 1-2 sentences in Russian explaining your classification reasoning.

5. **attachment_analysis** — if attachments mentioned, describe what they likely show. Otherwise null.

6. **needs_data_change** — 0 or 1. Set 1 if client needs personal data change (phone, email, password, documents). Example: "хотела изменить номер телефона" → 1.

7. **needs_location_routing** — 0 or 1. Set 1 if resolving the request requires a branch visit (documents, identification, cash operations).

Respond with ONLY valid JSON:
{
  "type": "...",
  "language_label": "...",
  "language_actual": "...",
  "language_is_mixed": false,
  "language_note": "...",
  "summary": "...",
  "explanation": "...",
  "attachment_analysis": null,
  "needs_data_change": 0,
  "needs_location_routing": 0
}`

// Ticket type aliases the model may return instead of the canonical value.
var typeNormalize = map[string]models.TicketType{
	"complaint":                     models.TypeComplaint,
	"жалоба":                        models.TypeComplaint,
	"data_change":                   models.TypeDataChange,
	"смена данных":                  models.TypeDataChange,
	"смена_данных":                  models.TypeDataChange,
	"consultation":                  models.TypeConsultation,
	"консультация":                  models.TypeConsultation,
	"formal_claim":                  models.TypeFormalClaim,
	"претензия":                     models.TypeFormalClaim,
	"app_malfunction":               models.TypeAppMalfunction,
	"неработоспособность":           models.TypeAppMalfunction,
	"неработоспособность приложения": models.TypeAppMalfunction,
	"fraud":                         models.TypeFraud,
	"мошенничество":                 models.TypeFraud,
	"мошеннические действия":        models.TypeFraud,
	"spam":                          models.TypeSpam,
	"спам":                          models.TypeSpam,
}

// AnalyzeRequest carries the classifier inputs for one ticket.
type AnalyzeRequest struct {
	Text        string
	Age         *int
	Segment     models.Segment
	Attachments []string
}

// AnalysisResult is the normalized classifier output.
type AnalysisResult struct {
	Type                 models.TicketType
	LanguageLabel        models.LanguageLabel
	LanguageActual       string
	LanguageIsMixed      bool
	LanguageNote         string
	Summary              string
	Explanation          string
	AttachmentAnalysis   string
	NeedsDataChange      bool
	NeedsLocationRouting bool
	Model                string
	Elapsed              time.Duration
}

type rawAnalysis struct {
	Type                 string          `json:"type"`
	LanguageLabel        string          `json:"language_label"`
	LanguageActual       string          `json:"language_actual"`
	LanguageIsMixed      bool            `json:"language_is_mixed"`
	LanguageNote         string          `json:"language_note"`
	Summary              string          `json:"summary"`
	Explanation          string          `json:"explanation"`
	AttachmentAnalysis   *string         `json:"attachment_analysis"`
	NeedsDataChange      json.RawMessage `json:"needs_data_change"`
	NeedsLocationRouting json.RawMessage `json:"needs_location_routing"`
}

// Classifier performs the main analysis call.
type Classifier struct {
	client *Client
	images *ImageLoader
}

// NewClassifier creates a classifier over the given transport. images may be
// nil when attachment upload is disabled.
func NewClassifier(client *Client, images *ImageLoader) *Classifier {
	return &Classifier{client: client, images: images}
}

// Analyze runs the classification call and normalizes its output. On
// transport failure the caller should fall back to DefaultAnalysis.
func (c *Classifier) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error) {
	start := time.Now()

	text := req.Text
	if text == "" {
		text = "(empty ticket body)"
	}
	age := "unknown"
	if req.Age != nil {
		age = fmt.Sprintf("%d", *req.Age)
	}

	attachmentContext := ""
	var imageParts []ContentPart
	if len(req.Attachments) > 0 {
		attachmentContext = "ATTACHMENTS: " + strings.Join(req.Attachments, ", ")
		if c.images != nil {
			for _, fname := range req.Attachments {
				part, ok := c.images.Load(fname)
				if !ok {
					continue
				}
				imageParts = append(imageParts, part)
				attachmentContext += fmt.Sprintf("\n[Image '%s' attached — analyze its content]", fname)
			}
		}
	}

	prompt := fmt.Sprintf(analysisPromptTemplate, text, attachmentContext, age, req.Segment)

	messages := []Message{
		{Role: "system", Content: "You are a precise ticket classification system. Return only valid JSON."},
	}
	if len(imageParts) > 0 {
		parts := append([]ContentPart{{Type: "text", Text: prompt}}, imageParts...)
		messages = append(messages, Message{Role: "user", Content: parts})
	} else {
		messages = append(messages, Message{Role: "user", Content: prompt})
	}

	content, err := c.client.CompleteJSON(ctx, messages, 0.1, 1000)
	if err != nil {
		return nil, err
	}

	var raw rawAnalysis
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("classifier returned invalid JSON: %w", err)
	}

	res := &AnalysisResult{
		Type:                 normalizeType(raw.Type),
		LanguageLabel:        normalizeLanguageLabel(raw.LanguageLabel),
		LanguageActual:       raw.LanguageActual,
		LanguageIsMixed:      raw.LanguageIsMixed,
		LanguageNote:         raw.LanguageNote,
		Summary:              raw.Summary,
		Explanation:          raw.Explanation,
		NeedsDataChange:      flagSet(raw.NeedsDataChange),
		NeedsLocationRouting: flagSet(raw.NeedsLocationRouting),
		Model:                c.client.Model(),
		Elapsed:              time.Since(start),
	}
	if raw.AttachmentAnalysis != nil {
		res.AttachmentAnalysis = *raw.AttachmentAnalysis
	}
	if res.LanguageActual == "" {
		res.LanguageActual = "russian"
	}

	// A set needs_data_change flag overrides the detected type.
	if res.NeedsDataChange && res.Type != models.TypeDataChange {
		res.Type = models.TypeDataChange
		res.Explanation += " Тип переопределён на «Смена данных» по флагу needs_data_change."
	}

	return res, nil
}

// DefaultAnalysis is the fail-open result used when the classifier call
// cannot complete. Safe defaults route the ticket to manual handling.
func DefaultAnalysis(model string, elapsed time.Duration, cause error) *AnalysisResult {
	return &AnalysisResult{
		Type:           models.TypeConsultation,
		LanguageLabel:  models.LanguageRU,
		LanguageActual: "russian",
		LanguageNote:   fmt.Sprintf("LLM failed: %v", cause),
		Summary:        "Ошибка LLM — требуется ручная обработка.",
		Explanation:    fmt.Sprintf("Ошибка при обращении к LLM: %v. Установлены значения по умолчанию.", cause),
		Model:          model,
		Elapsed:        elapsed,
	}
}

func normalizeType(raw string) models.TicketType {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return models.TypeConsultation
	}
	if t, ok := typeNormalize[key]; ok {
		return t
	}
	for alias, t := range typeNormalize {
		if strings.Contains(alias, key) || strings.Contains(key, alias) {
			return t
		}
	}
	return models.TypeConsultation
}

func normalizeLanguageLabel(raw string) models.LanguageLabel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "KZ":
		return models.LanguageKZ
	case "ENG", "EN":
		return models.LanguageENG
	default:
		return models.LanguageRU
	}
}

// flagSet interprets 0/1, true/false and "1" the way providers return them.
func flagSet(raw json.RawMessage) bool {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return s == "1" || strings.EqualFold(s, "true")
}
