// Package repository defines the durable-store contracts for every DSP
// entity (spec §3, component C1). Two implementations exist:
// repository/postgres (pgx-backed, production) and repository/memory
// (in-process, used by engine unit tests in the teacher's mockQuerier
// style — see trm-service/internal/consumer/dictionary_consumer_test.go).
package repository

import (
	"context"
	"time"

	"github.com/arc-self/rainbow-connector/internal/domain"
)

// PageRequest drives paged-list operations.
type PageRequest struct {
	Offset int
	Limit  int
}

// NegotiationRepository owns CNP, NegotiationMessage, Offer, and Agreement rows.
type NegotiationRepository interface {
	CreateCNP(ctx context.Context, cnp domain.ContractNegotiationProcess) (domain.ContractNegotiationProcess, error)
	GetCNPByID(ctx context.Context, id string) (domain.ContractNegotiationProcess, error)
	GetCNPByPids(ctx context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error)
	GetCNPByProviderPid(ctx context.Context, providerPid domain.URN) (domain.ContractNegotiationProcess, error)
	GetCNPByConsumerPid(ctx context.Context, consumerPid domain.URN) (domain.ContractNegotiationProcess, error)
	// UpdateCNPState performs a SELECT ... FOR UPDATE-style transactional
	// transition: it loads the row for update, applies fn, and persists the
	// result in the same transaction as the appended NegotiationMessage (and
	// optional Offer/Agreement insert). fn returning an error aborts the
	// transaction without writing anything (spec §5, §7).
	UpdateCNPState(ctx context.Context, id string, fn func(cur domain.ContractNegotiationProcess) (next domain.ContractNegotiationProcess, msg domain.NegotiationMessage, offer *domain.Offer, agreement *domain.Agreement, err error)) (domain.ContractNegotiationProcess, error)
	ListMessages(ctx context.Context, cnpID string) ([]domain.NegotiationMessage, error)
	GetAgreementByID(ctx context.Context, id domain.URN) (domain.Agreement, error)
	GetAgreementByCNP(ctx context.Context, cnpID string) (domain.Agreement, error)
}

// TransferRepository owns TransferProcess and TransferMessage rows.
type TransferRepository interface {
	CreateTP(ctx context.Context, tp domain.TransferProcess) (domain.TransferProcess, error)
	GetTPByID(ctx context.Context, id string) (domain.TransferProcess, error)
	GetTPByPids(ctx context.Context, providerPid, consumerPid domain.URN) (domain.TransferProcess, error)
	GetTPByProviderPid(ctx context.Context, providerPid domain.URN) (domain.TransferProcess, error)
	GetTPByAgreementID(ctx context.Context, agreementID domain.URN) ([]domain.TransferProcess, error)
	UpdateTPState(ctx context.Context, id string, fn func(cur domain.TransferProcess) (next domain.TransferProcess, msg domain.TransferMessage, err error)) (domain.TransferProcess, error)
	ListMessages(ctx context.Context, tpID string) ([]domain.TransferMessage, error)
}

// DataPlaneRepository owns DataPlaneProcess rows.
type DataPlaneRepository interface {
	CreateDPP(ctx context.Context, dpp domain.DataPlaneProcess) (domain.DataPlaneProcess, error)
	GetDPPByID(ctx context.Context, id string) (domain.DataPlaneProcess, error)
	GetDPPByTransferID(ctx context.Context, transferID string) (domain.DataPlaneProcess, error)
	UpdateDPPState(ctx context.Context, id string, next domain.DataPlaneState) (domain.DataPlaneProcess, error)
}

// EventRepository owns Subscription, Notification, and OutboxEvent rows.
type EventRepository interface {
	CreateSubscription(ctx context.Context, s domain.Subscription) (domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, category domain.NotificationCategory) ([]domain.Subscription, error)
	DeactivateExpiredSubscriptions(ctx context.Context) (int, error)

	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkNotificationOk(ctx context.Context, id string) error
	RescheduleNotification(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error

	ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, id string) error
}

// NotFoundError distinguishes "row does not exist" from other I/O errors,
// per spec §4.1 ("put against a missing row is NotFound, never an upsert").
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Entity + " " + e.Key
}

func (e *NotFoundError) Unwrap() error { return domain.ErrNotFound }
