package domain

// Role identifies which party a process row belongs to.
type Role string

const (
	RoleProvider Role = "Provider"
	RoleConsumer Role = "Consumer"
)

// NegotiationState is the Contract Negotiation Process lifecycle (spec §3).
type NegotiationState string

const (
	NegRequested  NegotiationState = "REQUESTED"
	NegOffered    NegotiationState = "OFFERED"
	NegAccepted   NegotiationState = "ACCEPTED"
	NegAgreed     NegotiationState = "AGREED"
	NegVerified   NegotiationState = "VERIFIED"
	NegFinalized  NegotiationState = "FINALIZED"
	NegTerminated NegotiationState = "TERMINATED"
)

// Terminal reports whether the state accepts no further messages.
func (s NegotiationState) Terminal() bool {
	return s == NegFinalized || s == NegTerminated
}

// TransferState is the Transfer Process lifecycle (spec §3).
type TransferState string

const (
	TPRequested  TransferState = "REQUESTED"
	TPStarted    TransferState = "STARTED"
	TPSuspended  TransferState = "SUSPENDED"
	TPCompleted  TransferState = "COMPLETED"
	TPTerminated TransferState = "TERMINATED"
)

func (s TransferState) Terminal() bool {
	return s == TPCompleted || s == TPTerminated
}

// TransferStateAttribute records who/what last drove a transfer's state.
type TransferStateAttribute string

const (
	AttrOnRequest  TransferStateAttribute = "ON_REQUEST"
	AttrByProvider TransferStateAttribute = "BY_PROVIDER"
	AttrByConsumer TransferStateAttribute = "BY_CONSUMER"
)

// FormatAction is the data-plane transfer direction negotiated for a TP.
type FormatAction string

const (
	ActionPull FormatAction = "PULL"
	ActionPush FormatAction = "PUSH"
)

// Format pairs a data-plane protocol with an action, as exchanged in
// TransferRequestMessage.format.
type Format struct {
	Protocol string       `json:"protocol"`
	Action   FormatAction `json:"action"`
}

// MessageDirection distinguishes inbound DSP deliveries from outbound ones.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "INBOUND"
	DirectionOutbound MessageDirection = "OUTBOUND"
)

// DataPlaneState is the Data Plane Process lifecycle (spec §3).
type DataPlaneState string

const (
	DPRequested  DataPlaneState = "REQUESTED"
	DPStarted    DataPlaneState = "STARTED"
	DPStopped    DataPlaneState = "STOPPED"
	DPTerminated DataPlaneState = "TERMINATED"
)

// DataPlaneDirection is the traffic shape a data-plane process forwards.
type DataPlaneDirection string

const (
	DPDirPull DataPlaneDirection = "PULL"
	DPDirPush DataPlaneDirection = "PUSH"
	DPDirBidi DataPlaneDirection = "BIDI"
)

// NotificationCategory is the subscription opt-in axis (spec §3).
type NotificationCategory string

const (
	CategoryTransfer    NotificationCategory = "transfer"
	CategoryNegotiation NotificationCategory = "negotiation"
	CategoryCatalog     NotificationCategory = "catalog"
	CategoryDataPlane   NotificationCategory = "data_plane"
)

// NotificationOperation is the CRUD-shaped event that triggered a notification.
type NotificationOperation string

const (
	OpCreated NotificationOperation = "Created"
	OpUpdated NotificationOperation = "Updated"
	OpDeleted NotificationOperation = "Deleted"
)

// NotificationStatus tracks delivery progress of a single notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "Pending"
	NotificationOk      NotificationStatus = "Ok"
)
