// Package priority computes the routing priority of a ticket as a weighted
// factor sum plus additive extras, with a soft floor for fraud.
package priority

import (
	"math"

	"github.com/freedomfin/fireroute/pkg/models"
)

// Factor weights. Extras are added unweighted on top of the base.
const (
	weightSegment  = 0.30
	weightType     = 0.25
	weightSent     = 0.15
	weightAge      = 0.10
	weightRepeat   = 0.07
	defaultScore   = 4.0
	fraudSoftFloor = 8.0
	expansionExtra = 1.0
	youngVIPExtra  = 1.0
	youngVIPAge    = 30
	fifoExtra      = 1.0
	spamFinal      = 1.0
)

var segmentScores = map[models.Segment]float64{
	models.SegmentVIP:      10,
	models.SegmentPriority: 7,
	models.SegmentMass:     3,
}

var typeScores = map[models.TicketType]float64{
	models.TypeFraud:          10,
	models.TypeFormalClaim:    8,
	models.TypeComplaint:      7,
	models.TypeAppMalfunction: 6,
	models.TypeDataChange:     5,
	models.TypeConsultation:   3,
	models.TypeSpam:           1,
}

var sentimentScores = map[models.Sentiment]float64{
	models.SentimentNegative: 8,
	models.SentimentNeutral:  4,
	models.SentimentPositive: 2,
}

// Input carries everything the engine needs for one ticket. GUIDCount is the
// per-batch occurrence count of this ticket's GUID; TotalRows is the batch
// size used for the FIFO bonus.
type Input struct {
	Segment     models.Segment
	Type        models.TicketType
	Sentiment   models.Sentiment
	Age         *int
	CSVRowIndex int
	TotalRows   int
	GUIDCount   int
	IsExpansion bool
}

// Compute returns the full breakdown for one non-spam ticket.
func Compute(in Input) models.PriorityBreakdown {
	segRaw, ok := segmentScores[in.Segment]
	if !ok {
		segRaw = 3
	}
	typeRaw, ok := typeScores[in.Type]
	if !ok {
		typeRaw = 3
	}
	sentRaw, ok := sentimentScores[in.Sentiment]
	if !ok {
		sentRaw = defaultScore
	}

	b := models.PriorityBreakdown{
		Segment:      round3(segRaw * weightSegment),
		Type:         round3(typeRaw * weightType),
		Sentiment:    round3(sentRaw * weightSent),
		Age:          round3(ageScore(in.Age) * weightAge),
		RepeatClient: round3(repeatScore(in.GUIDCount) * weightRepeat),
	}
	baseTotal := b.Segment + b.Type + b.Sentiment + b.Age + b.RepeatClient
	b.BaseTotal = round2(baseTotal)

	if in.IsExpansion {
		b.ExtraExpansion = expansionExtra
	}
	if in.Age != nil && *in.Age < youngVIPAge && in.Segment == models.SegmentVIP {
		b.ExtraYoungVIP = youngVIPExtra
	}
	b.ExtraFIFO = round3(fifoScore(in.CSVRowIndex, in.TotalRows))
	b.ExtraTotal = round3(b.ExtraExpansion + b.ExtraYoungVIP + b.ExtraFIFO)

	final := baseTotal + b.ExtraExpansion + b.ExtraYoungVIP + b.ExtraFIFO
	if in.Type == models.TypeFraud && final < fraudSoftFloor {
		final = fraudSoftFloor
		b.FraudFloorApplied = true
	}
	b.Final = math.Min(10.0, math.Max(1.0, round2(final)))

	return b
}

// Spam returns the fixed breakdown for a spam-short-circuited ticket.
func Spam() models.PriorityBreakdown {
	return models.PriorityBreakdown{Final: spamFinal}
}

// BuildGUIDCounter counts GUID occurrences within a batch.
func BuildGUIDCounter(guids []string) map[string]int {
	counts := make(map[string]int, len(guids))
	for _, g := range guids {
		counts[g]++
	}
	return counts
}

func ageScore(age *int) float64 {
	if age == nil {
		return defaultScore
	}
	switch {
	case *age >= 55:
		return 10
	case *age >= 50:
		return 8
	case *age >= 40:
		return 6
	case *age >= 25:
		return 4
	default:
		return 3
	}
}

func repeatScore(guidCount int) float64 {
	switch {
	case guidCount >= 4:
		return 10
	case guidCount >= 3:
		return 8
	case guidCount >= 2:
		return 5
	case guidCount >= 1:
		return 4
	default:
		return defaultScore
	}
}

// fifoScore gives earlier rows a small bonus; a single-row batch gets the
// full extra.
func fifoScore(rowIndex, totalRows int) float64 {
	if totalRows <= 1 {
		return fifoExtra
	}
	return fifoExtra * (1.0 - float64(rowIndex)/float64(totalRows-1))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
