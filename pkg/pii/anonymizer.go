// Package pii detects personal data in ticket text and substitutes stable
// tokens before the text leaves the service boundary. Detection is regex
// based: IIN, phone, card number, email and two-word full names.
package pii

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/google/uuid"
)

// MaxInputLen caps anonymizer input. Ticket descriptions are far below this;
// anything larger is rejected rather than scanned.
const MaxInputLen = 100_000

// Detection is one PII entity found in the input text. Offsets are byte
// positions into the original string.
type Detection struct {
	Start    int
	End      int
	Original string
	Kind     models.PIIKind
	Token    string
}

// Result holds the anonymized text and the ordered detections.
type Result struct {
	AnonymizedText string
	Detections     []Detection
}

// RE2 has no lookaround; digit and letter boundaries are validated in code
// after the bare pattern matches.
var (
	// Kazakhstan IIN: exactly twelve digits, optional space/hyphen
	// separators. Boundaries and stripped length are re-checked.
	iinPattern = regexp.MustCompile(`(?:[0-9][ \-]?){11}[0-9]`)

	// Phone: +7 or 8 prefix with conventional groupings, plus masked forms
	// where digits are replaced by X (Latin or Cyrillic).
	phonePattern = regexp.MustCompile(
		`(?:\+7|8)[ \-]?\(?[0-9]{3}\)?[ \-]?[0-9]{3}[ \-]?[0-9]{2}[ \-]?[0-9]{2}` +
			`|(?:\+7|8)[0-9]{10}` +
			`|(?:\+7|8)[0-9ХхXx \-]{8,12}[0-9]{0,2}`)

	// Card: sixteen digits in four groups. Boundaries re-checked.
	cardPattern = regexp.MustCompile(`[0-9]{4}[ \-]?[0-9]{4}[ \-]?[0-9]{4}[ \-]?[0-9]{4}`)

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// Two consecutive capitalized words, Cyrillic or Latin, 2-21 and 2-26
	// letters. The no-preceding-uppercase rule is checked in code.
	fullNamePattern = regexp.MustCompile(
		`[А-ЯЁA-Z][а-яёa-z]{1,20}\s+[А-ЯЁA-Z][а-яёa-z]{1,25}`)
)

// fullNameIgnore suppresses bigrams that look like names but are greetings,
// institutions or product names. Compared lowercase with collapsed spaces.
var fullNameIgnore = map[string]struct{}{
	"добрый день":              {},
	"добрый вечер":             {},
	"доброе утро":              {},
	"уважаемые коллеги":        {},
	"уважаемый клиент":         {},
	"здравствуйте уважаемые":   {},
	"здравствуйте вы":          {},
	"подскажите пожалуйста":    {},
	"хочу узнать":              {},
	"прошу вас":                {},
	"freedom broker":           {},
	"freedom finance":          {},
	"money advisor":            {},
	"московская биржа":         {},
	"саудовской аравии":        {},
	"казахстанской облигации":  {},
	"брокерский счет":          {},
	"брокерские услуги":        {},
	"бездействующих счетов":    {},
	"личности изменить":        {},
	"специальные цены":         {},
	"наличии складе":           {},
	"северо казахстанская":     {},
}

// Anonymize detects PII in text and returns the tokenized text plus the
// detections in document order. It has no side effects; persisting the
// mappings is the caller's responsibility.
func Anonymize(text string) (*Result, error) {
	if len(text) > MaxInputLen {
		return nil, fmt.Errorf("input too large: %d bytes (max %d)", len(text), MaxInputLen)
	}
	if text == "" {
		return &Result{AnonymizedText: ""}, nil
	}

	var detections []Detection

	add := func(start, end int, kind models.PIIKind) {
		if overlaps(start, end, detections) {
			return
		}
		detections = append(detections, Detection{
			Start:    start,
			End:      end,
			Original: text[start:end],
			Kind:     kind,
		})
	}

	for _, m := range iinPattern.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		if digitBounded(text, start, end) && digitCount(text[start:end]) == 12 {
			add(start, end, models.PIIIIN)
		}
	}
	for _, m := range phonePattern.FindAllStringIndex(text, -1) {
		add(m[0], m[1], models.PIIPhone)
	}
	for _, m := range cardPattern.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		if digitBounded(text, start, end) && digitCount(text[start:end]) == 16 {
			add(start, end, models.PIICard)
		}
	}
	for _, m := range emailPattern.FindAllStringIndex(text, -1) {
		add(m[0], m[1], models.PIIEmail)
	}
	for _, m := range fullNamePattern.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		if prev, ok := runeBefore(text, start); ok && isUpperLetter(prev) {
			continue
		}
		name := text[start:end]
		key := strings.ToLower(strings.Join(strings.Fields(name), " "))
		if _, skip := fullNameIgnore[key]; skip {
			continue
		}
		add(start, end, models.PIIFullName)
	}

	// Tokens count from 1 per kind in document order.
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Start < detections[j].Start
	})
	counters := make(map[models.PIIKind]int)
	for i := range detections {
		counters[detections[i].Kind]++
		detections[i].Token = fmt.Sprintf("[%s_%d]", detections[i].Kind, counters[detections[i].Kind])
	}

	// Replace back to front so earlier offsets stay valid.
	anonymized := text
	for i := len(detections) - 1; i >= 0; i-- {
		d := detections[i]
		anonymized = anonymized[:d.Start] + d.Token + anonymized[d.End:]
	}

	return &Result{AnonymizedText: anonymized, Detections: detections}, nil
}

// Rehydrate replaces every literal token occurrence with its original value.
// Text containing no tokens passes through unchanged.
func Rehydrate(text string, mappings []*models.PIIMapping) string {
	if text == "" || len(mappings) == 0 {
		return text
	}
	for _, m := range mappings {
		text = strings.ReplaceAll(text, m.Token, string(m.OriginalValue))
	}
	return text
}

// Mappings converts a result's detections into persistable rows for a ticket.
func (r *Result) Mappings(ticketID uuid.UUID) []*models.PIIMapping {
	out := make([]*models.PIIMapping, 0, len(r.Detections))
	for _, d := range r.Detections {
		out = append(out, &models.PIIMapping{
			TicketID:      ticketID,
			Token:         d.Token,
			OriginalValue: []byte(d.Original),
			PIIKind:       d.Kind,
		})
	}
	return out
}

func overlaps(start, end int, detections []Detection) bool {
	for _, d := range detections {
		if start < d.End && end > d.Start {
			return true
		}
	}
	return false
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// digitBounded reports whether the span is not embedded in a longer digit
// run. Separators are skipped, so the leading twelve digits of a spaced card
// number do not pass as an IIN.
func digitBounded(text string, start, end int) bool {
	i := start - 1
	for i >= 0 && (text[i] == ' ' || text[i] == '-') {
		i--
	}
	if i >= 0 && text[i] >= '0' && text[i] <= '9' {
		return false
	}
	j := end
	for j < len(text) && (text[j] == ' ' || text[j] == '-') {
		j++
	}
	if j < len(text) && text[j] >= '0' && text[j] <= '9' {
		return false
	}
	return true
}

func runeBefore(text string, pos int) (rune, bool) {
	if pos == 0 {
		return 0, false
	}
	r, size := utf8.DecodeLastRuneInString(text[:pos])
	if size == 0 {
		return 0, false
	}
	return r, true
}

func isUpperLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'А' && r <= 'Я') || r == 'Ё'
}
