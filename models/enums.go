package models

// BlankType is the shape family of a raw-material blank.
type BlankType string

const (
	BlankTypeBone   BlankType = "BONE"
	BlankTypeRing   BlankType = "RING"
	BlankTypeRound  BlankType = "ROUND"
	BlankTypeHeart  BlankType = "HEART"
	BlankTypeCloud  BlankType = "CLOUD"
	BlankTypeFlower BlankType = "FLOWER"
)

type BlankColor string

const (
	BlankColorGold   BlankColor = "GLD"
	BlankColorSilver BlankColor = "SIL"
)

// MovementType tags one atomic change to a SKU's stock balance.
type MovementType string

const (
	// MovementTypeOrder is outbound consumption driven by an order event.
	MovementTypeOrder MovementType = "order"
	// MovementTypeReceipt is an inbound receipt recorded by an operator.
	MovementTypeReceipt MovementType = "receipt"
	// MovementTypeCorrection is a manual stock adjustment (signed).
	MovementTypeCorrection MovementType = "correction"
	// MovementTypeScrap writes off wasted material.
	MovementTypeScrap MovementType = "scrap"
)

type MovementSource string

const (
	MovementSourceWebhook  MovementSource = "keycrm_webhook"
	MovementSourceOperator MovementSource = "operator"
	MovementSourceManual   MovementSource = "manual"
)

type UnmappedResolution string

const (
	UnmappedResolutionPending  UnmappedResolution = "pending"
	UnmappedResolutionResolved UnmappedResolution = "resolved"
	UnmappedResolutionIgnored  UnmappedResolution = "ignored"
)

// UrgencyLevel ranks replenishment recommendations for the purchaser.
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "critical"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyLow      UrgencyLevel = "low"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
