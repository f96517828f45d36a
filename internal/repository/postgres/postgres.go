// Package postgres is the pgx-backed implementation of the repository
// contracts (spec §4.1, component C1). It follows the same
// begin-tx/defer-rollback/commit shape as
// trm-service/internal/service/trm_service.go's CreateVendor, but issues
// hand-written SQL instead of sqlc-generated Querier calls, since this repo
// carries no sqlc toolchain to regenerate db.Querier from .sql files.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

// NewPool dials Postgres with otelpgx tracing wired in, the same way
// trm-service/cmd/api/main.go builds its pool (pgxpool.ParseConfig +
// otelpgx.NewTracer as ConnConfig.Tracer).
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return pool, nil
}

// Store implements NegotiationRepository, TransferRepository,
// DataPlaneRepository, and EventRepository against one pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func wrapNotFound(err error, entity, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &repository.NotFoundError{Entity: entity, Key: key}
	}
	return fmt.Errorf("%w: %v", domain.ErrDatabase, err)
}

// ── NegotiationRepository ───────────────────────────────────────────────

func (s *Store) CreateCNP(ctx context.Context, cnp domain.ContractNegotiationProcess) (domain.ContractNegotiationProcess, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contract_negotiation_process
			(organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address, created_at, updated_at`,
		cnp.OrganizationID, cnp.ProviderPid, cnp.ConsumerPid, cnp.State, cnp.Role, cnp.InitiatedBy, cnp.CallbackAddress)
	return scanCNP(row)
}

func scanCNP(row pgx.Row) (domain.ContractNegotiationProcess, error) {
	var c domain.ContractNegotiationProcess
	err := row.Scan(&c.ID, &c.OrganizationID, &c.ProviderPid, &c.ConsumerPid, &c.State, &c.Role, &c.InitiatedBy, &c.CallbackAddress, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.ContractNegotiationProcess{}, wrapNotFound(err, "CNP", "")
	}
	return c, nil
}

func (s *Store) GetCNPByPids(ctx context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address, created_at, updated_at
		FROM contract_negotiation_process WHERE provider_pid = $1 AND consumer_pid = $2`,
		providerPid, consumerPid)
	c, err := scanCNP(row)
	if err != nil {
		return c, wrapNotFound(err, "CNP", string(providerPid)+"/"+string(consumerPid))
	}
	return c, nil
}

func (s *Store) GetCNPByID(ctx context.Context, id string) (domain.ContractNegotiationProcess, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address, created_at, updated_at
		FROM contract_negotiation_process WHERE id = $1`, id)
	c, err := scanCNP(row)
	if err != nil {
		return c, wrapNotFound(err, "CNP", id)
	}
	return c, nil
}

func (s *Store) GetCNPByProviderPid(ctx context.Context, providerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address, created_at, updated_at
		FROM contract_negotiation_process WHERE provider_pid = $1`, providerPid)
	return scanCNP(row)
}

func (s *Store) GetCNPByConsumerPid(ctx context.Context, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address, created_at, updated_at
		FROM contract_negotiation_process WHERE consumer_pid = $1`, consumerPid)
	return scanCNP(row)
}

// UpdateCNPState loads the CNP row FOR UPDATE inside a transaction, applies
// fn, and persists the new state, the appended NegotiationMessage, and any
// Offer/Agreement in that same transaction, mirroring CreateVendor's
// begin/defer-rollback/qtx/commit shape.
func (s *Store) UpdateCNPState(
	ctx context.Context,
	id string,
	fn func(cur domain.ContractNegotiationProcess) (next domain.ContractNegotiationProcess, msg domain.NegotiationMessage, offer *domain.Offer, agreement *domain.Agreement, err error),
) (domain.ContractNegotiationProcess, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: begin tx: %v", domain.ErrDatabase, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, organization_id, provider_pid, consumer_pid, state, role, initiated_by, callback_address, created_at, updated_at
		FROM contract_negotiation_process WHERE id = $1 FOR UPDATE`, id)
	cur, err := scanCNP(row)
	if err != nil {
		return domain.ContractNegotiationProcess{}, wrapNotFound(err, "CNP", id)
	}

	next, msg, offer, agreement, err := fn(cur)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE contract_negotiation_process SET state = $1, updated_at = now() WHERE id = $2`,
		next.State, id); err != nil {
		return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: update cnp: %v", domain.ErrDatabase, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO negotiation_message (cnp_id, direction, message_type, from_state, to_state, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, msg.Direction, msg.MessageType, msg.FromState, msg.ToState, msg.Payload); err != nil {
		return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: insert negotiation message: %v", domain.ErrDatabase, err)
	}

	if offer != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO offer (id, cnp_id, message_id, target, body) VALUES ($1, $2, $3, $4, $5)`,
			offer.ID, id, offer.MessageID, offer.Target, offer.Body); err != nil {
			return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: insert offer: %v", domain.ErrDatabase, err)
		}
	}

	if agreement != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO agreement (id, cnp_id, target, assignee, assigner, body, signed_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			agreement.ID, id, agreement.Target, agreement.Assignee, agreement.Assigner, agreement.Body); err != nil {
			var pgErr interface{ ConstraintName() string }
			if errors.As(err, &pgErr) {
				return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: agreement already exists for cnp %s", domain.ErrAlreadyExists, id)
			}
			return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: insert agreement: %v", domain.ErrDatabase, err)
		}
	}

	if err := insertOutbox(ctx, tx, domain.OutboxEvent{
		OrganizationID: next.OrganizationID,
		AggregateType:  "contract_negotiation_process",
		AggregateID:    id,
		EventType:      "NegotiationStateChanged",
		Payload:        mustMarshal(map[string]any{"from": cur.State, "to": next.State}),
	}); err != nil {
		return domain.ContractNegotiationProcess{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ContractNegotiationProcess{}, fmt.Errorf("%w: commit: %v", domain.ErrDatabase, err)
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (s *Store) ListMessages(ctx context.Context, cnpID string) ([]domain.NegotiationMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cnp_id, direction, message_type, from_state, to_state, payload, created_at
		FROM negotiation_message WHERE cnp_id = $1 ORDER BY created_at ASC`, cnpID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	defer rows.Close()

	var out []domain.NegotiationMessage
	for rows.Next() {
		var m domain.NegotiationMessage
		if err := rows.Scan(&m.ID, &m.CNPID, &m.Direction, &m.MessageType, &m.FromState, &m.ToState, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetAgreementByID(ctx context.Context, id domain.URN) (domain.Agreement, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, cnp_id, target, assignee, assigner, body, signed_at FROM agreement WHERE id = $1`, id)
	return scanAgreement(row, "Agreement", string(id))
}

func (s *Store) GetAgreementByCNP(ctx context.Context, cnpID string) (domain.Agreement, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, cnp_id, target, assignee, assigner, body, signed_at FROM agreement WHERE cnp_id = $1`, cnpID)
	return scanAgreement(row, "Agreement", cnpID)
}

func scanAgreement(row pgx.Row, entity, key string) (domain.Agreement, error) {
	var a domain.Agreement
	err := row.Scan(&a.ID, &a.CNPID, &a.Target, &a.Assignee, &a.Assigner, &a.Body, &a.SignedAt)
	if err != nil {
		return domain.Agreement{}, wrapNotFound(err, entity, key)
	}
	return a, nil
}

// ── TransferRepository ──────────────────────────────────────────────────

func (s *Store) CreateTP(ctx context.Context, tp domain.TransferProcess) (domain.TransferProcess, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfer_process
			(organization_id, provider_pid, consumer_pid, agreement_id, format_protocol, format_action,
			 state, state_attribute, role, callback_address, data_address, data_plane_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, organization_id, provider_pid, consumer_pid, agreement_id, format_protocol, format_action,
			state, state_attribute, role, callback_address, data_address, data_plane_id, created_at, updated_at`,
		tp.OrganizationID, tp.ProviderPid, tp.ConsumerPid, tp.AgreementID, tp.Format.Protocol, tp.Format.Action,
		tp.State, tp.StateAttribute, tp.Role, tp.CallbackAddress, tp.DataAddress, nullableString(tp.DataPlaneID))
	return scanTP(row)
}

func scanTP(row pgx.Row) (domain.TransferProcess, error) {
	var t domain.TransferProcess
	var dataPlaneID *string
	err := row.Scan(&t.ID, &t.OrganizationID, &t.ProviderPid, &t.ConsumerPid, &t.AgreementID,
		&t.Format.Protocol, &t.Format.Action, &t.State, &t.StateAttribute, &t.Role, &t.CallbackAddress,
		&t.DataAddress, &dataPlaneID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.TransferProcess{}, wrapNotFound(err, "TP", "")
	}
	if dataPlaneID != nil {
		t.DataPlaneID = *dataPlaneID
	}
	return t, nil
}

func (s *Store) GetTPByPids(ctx context.Context, providerPid, consumerPid domain.URN) (domain.TransferProcess, error) {
	row := s.pool.QueryRow(ctx, tpSelect+` WHERE provider_pid = $1 AND consumer_pid = $2`, providerPid, consumerPid)
	t, err := scanTP(row)
	if err != nil {
		return t, wrapNotFound(err, "TP", string(providerPid)+"/"+string(consumerPid))
	}
	return t, nil
}

func (s *Store) GetTPByID(ctx context.Context, id string) (domain.TransferProcess, error) {
	row := s.pool.QueryRow(ctx, tpSelect+` WHERE id = $1`, id)
	t, err := scanTP(row)
	if err != nil {
		return t, wrapNotFound(err, "TP", id)
	}
	return t, nil
}

func (s *Store) GetTPByProviderPid(ctx context.Context, providerPid domain.URN) (domain.TransferProcess, error) {
	row := s.pool.QueryRow(ctx, tpSelect+` WHERE provider_pid = $1`, providerPid)
	return scanTP(row)
}

func (s *Store) GetTPByAgreementID(ctx context.Context, agreementID domain.URN) ([]domain.TransferProcess, error) {
	rows, err := s.pool.Query(ctx, tpSelect+` WHERE agreement_id = $1`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	defer rows.Close()
	var out []domain.TransferProcess
	for rows.Next() {
		t, err := scanTP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const tpSelect = `
	SELECT id, organization_id, provider_pid, consumer_pid, agreement_id, format_protocol, format_action,
		state, state_attribute, role, callback_address, data_address, data_plane_id, created_at, updated_at
	FROM transfer_process`

func (s *Store) UpdateTPState(
	ctx context.Context,
	id string,
	fn func(cur domain.TransferProcess) (next domain.TransferProcess, msg domain.TransferMessage, err error),
) (domain.TransferProcess, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TransferProcess{}, fmt.Errorf("%w: begin tx: %v", domain.ErrDatabase, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, tpSelect+` WHERE id = $1 FOR UPDATE`, id)
	cur, err := scanTP(row)
	if err != nil {
		return domain.TransferProcess{}, wrapNotFound(err, "TP", id)
	}

	next, msg, err := fn(cur)
	if err != nil {
		return domain.TransferProcess{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE transfer_process SET state = $1, state_attribute = $2, data_plane_id = $3, updated_at = now() WHERE id = $4`,
		next.State, next.StateAttribute, nullableString(next.DataPlaneID), id); err != nil {
		return domain.TransferProcess{}, fmt.Errorf("%w: update tp: %v", domain.ErrDatabase, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transfer_message (tp_id, direction, message_type, from_state, to_state, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, msg.Direction, msg.MessageType, msg.FromState, msg.ToState, msg.Payload); err != nil {
		return domain.TransferProcess{}, fmt.Errorf("%w: insert transfer message: %v", domain.ErrDatabase, err)
	}

	if err := insertOutbox(ctx, tx, domain.OutboxEvent{
		OrganizationID: next.OrganizationID,
		AggregateType:  "transfer_process",
		AggregateID:    id,
		EventType:      "TransferStateChanged",
		Payload:        mustMarshal(map[string]any{"from": cur.State, "to": next.State}),
	}); err != nil {
		return domain.TransferProcess{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TransferProcess{}, fmt.Errorf("%w: commit: %v", domain.ErrDatabase, err)
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (s *Store) listTransferMessages(ctx context.Context, tpID string) ([]domain.TransferMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tp_id, direction, message_type, from_state, to_state, payload, created_at
		FROM transfer_message WHERE tp_id = $1 ORDER BY created_at ASC`, tpID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	defer rows.Close()
	var out []domain.TransferMessage
	for rows.Next() {
		var m domain.TransferMessage
		if err := rows.Scan(&m.ID, &m.TPID, &m.Direction, &m.MessageType, &m.FromState, &m.ToState, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ── DataPlaneRepository ─────────────────────────────────────────────────

func (s *Store) CreateDPP(ctx context.Context, dpp domain.DataPlaneProcess) (domain.DataPlaneProcess, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO data_plane_process (transfer_id, direction, state, process_address, upstream_hop, downstream_hop)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, transfer_id, direction, state, process_address, upstream_hop, downstream_hop, created_at, updated_at`,
		dpp.TransferID, dpp.Direction, dpp.State, mustMarshal(dpp.ProcessAddress), mustMarshal(dpp.UpstreamHop), mustMarshal(dpp.DownstreamHop))
	return scanDPP(row)
}

func scanDPP(row pgx.Row) (domain.DataPlaneProcess, error) {
	var d domain.DataPlaneProcess
	var proc, up, down json.RawMessage
	err := row.Scan(&d.ID, &d.TransferID, &d.Direction, &d.State, &proc, &up, &down, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.DataPlaneProcess{}, wrapNotFound(err, "DPP", "")
	}
	_ = json.Unmarshal(proc, &d.ProcessAddress)
	_ = json.Unmarshal(up, &d.UpstreamHop)
	_ = json.Unmarshal(down, &d.DownstreamHop)
	return d, nil
}

func (s *Store) GetDPPByID(ctx context.Context, id string) (domain.DataPlaneProcess, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, transfer_id, direction, state, process_address, upstream_hop, downstream_hop, created_at, updated_at
		FROM data_plane_process WHERE id = $1`, id)
	d, err := scanDPP(row)
	if err != nil {
		return d, wrapNotFound(err, "DPP", id)
	}
	return d, nil
}

func (s *Store) GetDPPByTransferID(ctx context.Context, transferID string) (domain.DataPlaneProcess, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, transfer_id, direction, state, process_address, upstream_hop, downstream_hop, created_at, updated_at
		FROM data_plane_process WHERE transfer_id = $1`, transferID)
	d, err := scanDPP(row)
	if err != nil {
		return d, wrapNotFound(err, "DPP", transferID)
	}
	return d, nil
}

func (s *Store) UpdateDPPState(ctx context.Context, id string, next domain.DataPlaneState) (domain.DataPlaneProcess, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE data_plane_process SET state = $1, updated_at = now() WHERE id = $2
		RETURNING id, transfer_id, direction, state, process_address, upstream_hop, downstream_hop, created_at, updated_at`,
		next, id)
	d, err := scanDPP(row)
	if err != nil {
		return d, wrapNotFound(err, "DPP", id)
	}
	return d, nil
}

// ── EventRepository ─────────────────────────────────────────────────────

func (s *Store) CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscription
			(organization_id, callback_address, transfer, negotiation, catalog, data_plane, active, expiration_time)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		RETURNING id, organization_id, callback_address, transfer, negotiation, catalog, data_plane, active, expiration_time, created_at`,
		sub.OrganizationID, sub.CallbackAddress, sub.Transfer, sub.Negotiation, sub.Catalog, sub.DataPlane, sub.ExpirationTime)
	return scanSubscription(row)
}

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.CallbackAddress, &sub.Transfer, &sub.Negotiation,
		&sub.Catalog, &sub.DataPlane, &sub.Active, &sub.ExpirationTime, &sub.CreatedAt)
	if err != nil {
		return domain.Subscription{}, wrapNotFound(err, "Subscription", "")
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, callback_address, transfer, negotiation, catalog, data_plane, active, expiration_time, created_at
		FROM subscription WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		return sub, wrapNotFound(err, "Subscription", id)
	}
	return sub, nil
}

func (s *Store) ListActiveSubscriptions(ctx context.Context, category domain.NotificationCategory) ([]domain.Subscription, error) {
	col, ok := categoryColumn(category)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", domain.ErrInternal, category)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, organization_id, callback_address, transfer, negotiation, catalog, data_plane, active, expiration_time, created_at
		FROM subscription WHERE active AND expiration_time > now() AND %s`, col))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	defer rows.Close()
	var out []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func categoryColumn(c domain.NotificationCategory) (string, bool) {
	switch c {
	case domain.CategoryTransfer:
		return "transfer", true
	case domain.CategoryNegotiation:
		return "negotiation", true
	case domain.CategoryCatalog:
		return "catalog", true
	case domain.CategoryDataPlane:
		return "data_plane", true
	default:
		return "", false
	}
}

func (s *Store) DeactivateExpiredSubscriptions(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE subscription SET active = false WHERE active AND expiration_time <= now()`)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notification
			(subscription_id, category, message_type, message_operation, payload, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 'Pending', 0, now())
		RETURNING id, subscription_id, category, message_type, message_operation, payload, status, attempts, next_attempt_at, created_at`,
		n.SubscriptionID, n.Category, n.MessageType, n.MessageOperation, n.Payload)
	return scanNotification(row)
}

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.SubscriptionID, &n.Category, &n.MessageType, &n.MessageOperation,
		&n.Payload, &n.Status, &n.Attempts, &n.NextAttemptAt, &n.CreatedAt)
	if err != nil {
		return domain.Notification{}, wrapNotFound(err, "Notification", "")
	}
	return n, nil
}

func (s *Store) ListPendingNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, category, message_type, message_operation, payload, status, attempts, next_attempt_at, created_at
		FROM notification WHERE status = 'Pending' AND next_attempt_at <= now()
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationOk(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notification SET status = 'Ok' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return &repository.NotFoundError{Entity: "Notification", Key: id}
	}
	return nil
}

func (s *Store) RescheduleNotification(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notification SET attempts = $1, next_attempt_at = $2 WHERE id = $3`,
		attempts, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return &repository.NotFoundError{Entity: "Notification", Key: id}
	}
	return nil
}

func (s *Store) ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, aggregate_type, aggregate_id, event_type, payload, created_at, published
		FROM outbox_event WHERE NOT published ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	defer rows.Close()
	var out []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt, &e.Published); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDatabase, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE outbox_event SET published = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return &repository.NotFoundError{Entity: "OutboxEvent", Key: id}
	}
	return nil
}

// ── shared helpers ──────────────────────────────────────────────────────

func insertOutbox(ctx context.Context, tx pgx.Tx, e domain.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (organization_id, aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		e.OrganizationID, e.AggregateType, e.AggregateID, e.EventType, e.Payload)
	if err != nil {
		return fmt.Errorf("%w: insert outbox event: %v", domain.ErrDatabase, err)
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ repository.NegotiationRepository = (*Store)(nil)
	_ repository.DataPlaneRepository   = (*Store)(nil)
	_ repository.EventRepository       = (*Store)(nil)
)

// AsTransferRepository returns a repository.TransferRepository view onto the
// store, mirroring memory.Store's split (Go cannot overload ListMessages by
// return type on a single receiver that also implements NegotiationRepository).
func (s *Store) AsTransferRepository() repository.TransferRepository { return transferView{s} }

type transferView struct{ *Store }

func (t transferView) ListMessages(ctx context.Context, tpID string) ([]domain.TransferMessage, error) {
	return t.Store.listTransferMessages(ctx, tpID)
}
