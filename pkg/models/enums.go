package models

// TicketType is the domain classification of a support ticket.
type TicketType string

// Ticket types recognized by the classifier and the router.
const (
	TypeComplaint      TicketType = "complaint"
	TypeDataChange     TicketType = "data_change"
	TypeConsultation   TicketType = "consultation"
	TypeFormalClaim    TicketType = "formal_claim"
	TypeAppMalfunction TicketType = "app_malfunction"
	TypeFraud          TicketType = "fraud"
	TypeSpam           TicketType = "spam"
)

// Valid reports whether t is one of the seven recognized ticket types.
func (t TicketType) Valid() bool {
	switch t {
	case TypeComplaint, TypeDataChange, TypeConsultation, TypeFormalClaim,
		TypeAppMalfunction, TypeFraud, TypeSpam:
		return true
	}
	return false
}

// Sentiment is the emotional tone label produced by the sentiment classifier.
type Sentiment string

// Sentiment labels.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Segment is the client tier from the upload.
type Segment string

// Client segments.
const (
	SegmentVIP      Segment = "VIP"
	SegmentPriority Segment = "Priority"
	SegmentMass     Segment = "Mass"
)

// Position is a manager's role. The skill factor is position-derived.
type Position string

// Manager positions.
const (
	PositionSpecialist      Position = "specialist"
	PositionLeadSpecialist  Position = "lead_specialist"
	PositionChiefSpecialist Position = "chief_specialist"
)

// SkillFactor returns the position-derived load multiplier.
func (p Position) SkillFactor() float64 {
	switch p {
	case PositionChiefSpecialist:
		return 1.5
	case PositionLeadSpecialist:
		return 1.3
	default:
		return 1.0
	}
}

// TicketStatus tracks pipeline progress for a single ticket.
// Transitions are monotonic in the declared order.
type TicketStatus string

// Ticket lifecycle statuses.
const (
	StatusIngested    TicketStatus = "ingested"
	StatusPIIStripped TicketStatus = "pii_stripped"
	StatusSpamChecked TicketStatus = "spam_checked"
	StatusEnriched    TicketStatus = "enriched"
	StatusRouted      TicketStatus = "routed"
	StatusClosed      TicketStatus = "closed"
)

// AddressStatus describes the geocoding resolution quality.
type AddressStatus string

// Address resolution statuses.
const (
	AddressResolved AddressStatus = "resolved"
	AddressPartial  AddressStatus = "partial"
	AddressForeign  AddressStatus = "foreign"
	AddressUnknown  AddressStatus = "unknown"
)

// LanguageLabel is the routed language bucket (not the detected language).
type LanguageLabel string

// Language labels used for skill-based routing.
const (
	LanguageRU  LanguageLabel = "RU"
	LanguageKZ  LanguageLabel = "KZ"
	LanguageENG LanguageLabel = "ENG"
)

// Stage identifies a pipeline processing stage.
type Stage string

// Pipeline stages, in execution order.
const (
	StageIngestion    Stage = "ingestion"
	StageSpamFilter   Stage = "spam_filter"
	StagePII          Stage = "pii_anonymization"
	StageLLMAnalysis  Stage = "llm_analysis"
	StageSentiment    Stage = "sentiment_analysis"
	StageGeocoding    Stage = "geocoding"
	StagePriority     Stage = "priority_calculation"
	StageRouting      Stage = "routing"
	StageEnrichment   Stage = "enrichment"
	StagePipeline     Stage = "pipeline"
)

// StageStatus is the outcome of a stage for one ticket.
type StageStatus string

// Stage statuses.
const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// BatchStatus is the lifecycle state of an uploaded batch.
type BatchStatus string

// Batch statuses.
const (
	BatchPending             BatchStatus = "pending"
	BatchProcessing          BatchStatus = "processing"
	BatchCompleted           BatchStatus = "completed"
	BatchCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchFailed              BatchStatus = "failed"
)

// PIIKind classifies a detected personal-data entity.
type PIIKind string

// PII entity kinds, in detection order.
const (
	PIIIIN      PIIKind = "IIN"
	PIIPhone    PIIKind = "PHONE"
	PIICard     PIIKind = "CARD"
	PIIEmail    PIIKind = "EMAIL"
	PIIFullName PIIKind = "FULL_NAME"
)

// TypeDifficulty returns the router's load increment for a ticket type.
// Spam is never routed; it reports 0.
func TypeDifficulty(t TicketType) float64 {
	switch t {
	case TypeFraud:
		return 1.5
	case TypeDataChange:
		return 1.3
	case TypeComplaint:
		return 1.2
	case TypeAppMalfunction:
		return 1.15
	case TypeFormalClaim:
		return 1.1
	case TypeConsultation:
		return 1.0
	case TypeSpam:
		return 0
	default:
		return 1.15
	}
}
