package domain

import (
	"encoding/json"
	"time"
)

// ContractNegotiationProcess is the CNP row described in spec §3.
type ContractNegotiationProcess struct {
	ID              string // internal row id
	OrganizationID  string
	ProviderPid     URN
	ConsumerPid     URN
	State           NegotiationState
	Role            Role
	InitiatedBy     Role
	CallbackAddress string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NegotiationMessage is an append-only log row per accepted CN transition.
type NegotiationMessage struct {
	ID          string
	CNPID       string
	Direction   MessageDirection
	MessageType string
	FromState   NegotiationState
	ToState     NegotiationState
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// Offer is an immutable ODRL offer carried in a DSP payload.
type Offer struct {
	ID        URN
	CNPID     string
	MessageID string
	Target    URN // asset URN
	Body      json.RawMessage
	CreatedAt time.Time
}

// Agreement is created exactly once per CNP, when it reaches AGREED.
type Agreement struct {
	ID        URN
	CNPID     string
	Target    URN
	Assignee  string
	Assigner  string
	Body      json.RawMessage
	SignedAt  time.Time
}

// TransferProcess is the TP row described in spec §3.
type TransferProcess struct {
	ID              string
	OrganizationID  string
	ProviderPid     URN
	ConsumerPid     URN
	AgreementID     URN
	Format          Format
	State           TransferState
	StateAttribute  TransferStateAttribute
	Role            Role
	CallbackAddress string
	DataAddress     json.RawMessage // nullable: remote sink for PUSH
	DataPlaneID     string          // nullable back-ref to DPP
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TransferMessage mirrors NegotiationMessage for the TP log.
type TransferMessage struct {
	ID          string
	TPID        string
	Direction   MessageDirection
	MessageType string
	FromState   TransferState
	ToState     TransferState
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// HopDescriptor describes one leg (upstream source or downstream sink) of a
// data-plane forwarding process.
type HopDescriptor struct {
	Protocol    string `json:"protocol"`
	URL         string `json:"url"`
	AuthType    string `json:"authType,omitempty"`
	AuthContent string `json:"authContent,omitempty"`
}

// DataPlaneProcess is the DPP row described in spec §3.
type DataPlaneProcess struct {
	ID             string
	TransferID     string
	Direction      DataPlaneDirection
	State          DataPlaneState
	ProcessAddress HopDescriptor
	UpstreamHop    HopDescriptor
	DownstreamHop  HopDescriptor
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subscription is an external party's opt-in to notification categories.
type Subscription struct {
	ID              string
	OrganizationID  string
	CallbackAddress string
	Transfer        bool
	Negotiation     bool
	Catalog         bool
	DataPlane       bool
	Active          bool
	ExpirationTime  time.Time
	CreatedAt       time.Time
}

// Notification is a single fan-out delivery attempt target.
type Notification struct {
	ID                string
	SubscriptionID    string
	Category          NotificationCategory
	MessageType       string
	MessageOperation  NotificationOperation
	Payload           json.RawMessage
	Status            NotificationStatus
	Attempts          int
	NextAttemptAt     time.Time
	CreatedAt         time.Time
}

// OutboxEvent is the internal domain-event envelope inserted alongside every
// mutating repository write, consumed by internal/eventbus (see DESIGN.md).
type OutboxEvent struct {
	ID             string
	OrganizationID string
	AggregateType  string
	AggregateID    string
	EventType      string
	Payload        json.RawMessage
	CreatedAt      time.Time
	Published      bool
}
