// Package memory is an in-process implementation of the repository
// interfaces, used by engine unit tests in place of a live Postgres
// instance. It mirrors the locking semantics pgx's "SELECT ... FOR UPDATE"
// transaction gives the postgres implementation: each row carries its own
// mutex so concurrent transitions on different processes never block each
// other, but two transitions racing the same process serialize (spec §5).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arc-self/rainbow-connector/internal/domain"
	"github.com/arc-self/rainbow-connector/internal/repository"
)

type row[T any] struct {
	mu   sync.Mutex
	data T
}

// Store is the shared backing for all four repository interfaces. A single
// Store satisfies NegotiationRepository, DataPlaneRepository, and
// EventRepository directly and TransferRepository through
// AsTransferRepository, the same way one pgxpool.Pool
// backs every postgres repository in this package's sibling.
type Store struct {
	mu sync.RWMutex

	cnps         map[string]*row[domain.ContractNegotiationProcess]
	negMessages  map[string][]domain.NegotiationMessage
	offers       map[domain.URN]domain.Offer
	agreements   map[domain.URN]domain.Agreement
	agreementsByCNP map[string]domain.URN

	tps         map[string]*row[domain.TransferProcess]
	tpMessages  map[string][]domain.TransferMessage

	dpps map[string]*row[domain.DataPlaneProcess]

	subscriptions map[string]domain.Subscription
	notifications map[string]domain.Notification
	outbox        map[string]domain.OutboxEvent
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		cnps:            make(map[string]*row[domain.ContractNegotiationProcess]),
		negMessages:     make(map[string][]domain.NegotiationMessage),
		offers:          make(map[domain.URN]domain.Offer),
		agreements:      make(map[domain.URN]domain.Agreement),
		agreementsByCNP: make(map[string]domain.URN),
		tps:             make(map[string]*row[domain.TransferProcess]),
		tpMessages:      make(map[string][]domain.TransferMessage),
		dpps:            make(map[string]*row[domain.DataPlaneProcess]),
		subscriptions:   make(map[string]domain.Subscription),
		notifications:   make(map[string]domain.Notification),
		outbox:          make(map[string]domain.OutboxEvent),
	}
}

func newID() string { return uuid.New().String() }

func notFound(entity, key string) error { return &repository.NotFoundError{Entity: entity, Key: key} }

// ── NegotiationRepository ───────────────────────────────────────────────

func (s *Store) CreateCNP(_ context.Context, cnp domain.ContractNegotiationProcess) (domain.ContractNegotiationProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cnp.ID == "" {
		cnp.ID = newID()
	}
	if _, exists := s.cnps[cnp.ID]; exists {
		return domain.ContractNegotiationProcess{}, domain.ErrAlreadyExists
	}
	now := time.Now().UTC()
	cnp.CreatedAt, cnp.UpdatedAt = now, now
	s.cnps[cnp.ID] = &row[domain.ContractNegotiationProcess]{data: cnp}
	return cnp, nil
}

func (s *Store) findCNP(pred func(domain.ContractNegotiationProcess) bool) (*row[domain.ContractNegotiationProcess], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.cnps {
		r.mu.Lock()
		match := pred(r.data)
		r.mu.Unlock()
		if match {
			return r, true
		}
	}
	return nil, false
}

func (s *Store) GetCNPByPids(_ context.Context, providerPid, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	r, ok := s.findCNP(func(c domain.ContractNegotiationProcess) bool {
		return c.ProviderPid == providerPid && c.ConsumerPid == consumerPid
	})
	if !ok {
		return domain.ContractNegotiationProcess{}, notFound("CNP", string(providerPid)+"/"+string(consumerPid))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetCNPByID(_ context.Context, id string) (domain.ContractNegotiationProcess, error) {
	s.mu.RLock()
	r, ok := s.cnps[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ContractNegotiationProcess{}, notFound("CNP", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetCNPByProviderPid(_ context.Context, providerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	r, ok := s.findCNP(func(c domain.ContractNegotiationProcess) bool { return c.ProviderPid == providerPid })
	if !ok {
		return domain.ContractNegotiationProcess{}, notFound("CNP", string(providerPid))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetCNPByConsumerPid(_ context.Context, consumerPid domain.URN) (domain.ContractNegotiationProcess, error) {
	r, ok := s.findCNP(func(c domain.ContractNegotiationProcess) bool { return c.ConsumerPid == consumerPid })
	if !ok {
		return domain.ContractNegotiationProcess{}, notFound("CNP", string(consumerPid))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) UpdateCNPState(
	_ context.Context,
	id string,
	fn func(cur domain.ContractNegotiationProcess) (next domain.ContractNegotiationProcess, msg domain.NegotiationMessage, offer *domain.Offer, agreement *domain.Agreement, err error),
) (domain.ContractNegotiationProcess, error) {
	s.mu.RLock()
	r, ok := s.cnps[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ContractNegotiationProcess{}, notFound("CNP", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, msg, offer, agreement, err := fn(r.data)
	if err != nil {
		return domain.ContractNegotiationProcess{}, err
	}
	next.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if agreement != nil {
		if _, exists := s.agreementsByCNP[id]; exists {
			return domain.ContractNegotiationProcess{}, domain.ErrAlreadyExists // P5
		}
		s.agreements[agreement.ID] = *agreement
		s.agreementsByCNP[id] = agreement.ID
	}
	if offer != nil {
		s.offers[offer.ID] = *offer
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	msg.CreatedAt = time.Now().UTC()
	s.negMessages[id] = append(s.negMessages[id], msg)
	r.data = next
	return next, nil
}

func (s *Store) ListMessages(_ context.Context, cnpID string) ([]domain.NegotiationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.NegotiationMessage(nil), s.negMessages[cnpID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetAgreementByID(_ context.Context, id domain.URN) (domain.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agreements[id]
	if !ok {
		return domain.Agreement{}, notFound("Agreement", string(id))
	}
	return a, nil
}

func (s *Store) GetAgreementByCNP(_ context.Context, cnpID string) (domain.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.agreementsByCNP[cnpID]
	if !ok {
		return domain.Agreement{}, notFound("Agreement", cnpID)
	}
	return s.agreements[id], nil
}

// ── TransferRepository ──────────────────────────────────────────────────

func (s *Store) CreateTP(_ context.Context, tp domain.TransferProcess) (domain.TransferProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp.ID == "" {
		tp.ID = newID()
	}
	if _, exists := s.tps[tp.ID]; exists {
		return domain.TransferProcess{}, domain.ErrAlreadyExists
	}
	now := time.Now().UTC()
	tp.CreatedAt, tp.UpdatedAt = now, now
	s.tps[tp.ID] = &row[domain.TransferProcess]{data: tp}
	return tp, nil
}

func (s *Store) findTP(pred func(domain.TransferProcess) bool) (*row[domain.TransferProcess], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.tps {
		r.mu.Lock()
		match := pred(r.data)
		r.mu.Unlock()
		if match {
			return r, true
		}
	}
	return nil, false
}

func (s *Store) GetTPByPids(_ context.Context, providerPid, consumerPid domain.URN) (domain.TransferProcess, error) {
	r, ok := s.findTP(func(t domain.TransferProcess) bool {
		return t.ProviderPid == providerPid && t.ConsumerPid == consumerPid
	})
	if !ok {
		return domain.TransferProcess{}, notFound("TP", string(providerPid)+"/"+string(consumerPid))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetTPByID(_ context.Context, id string) (domain.TransferProcess, error) {
	s.mu.RLock()
	r, ok := s.tps[id]
	s.mu.RUnlock()
	if !ok {
		return domain.TransferProcess{}, notFound("TP", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetTPByProviderPid(_ context.Context, providerPid domain.URN) (domain.TransferProcess, error) {
	r, ok := s.findTP(func(t domain.TransferProcess) bool { return t.ProviderPid == providerPid })
	if !ok {
		return domain.TransferProcess{}, notFound("TP", string(providerPid))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetTPByAgreementID(_ context.Context, agreementID domain.URN) ([]domain.TransferProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TransferProcess
	for _, r := range s.tps {
		r.mu.Lock()
		if r.data.AgreementID == agreementID {
			out = append(out, r.data)
		}
		r.mu.Unlock()
	}
	return out, nil
}

func (s *Store) UpdateTPState(
	_ context.Context,
	id string,
	fn func(cur domain.TransferProcess) (next domain.TransferProcess, msg domain.TransferMessage, err error),
) (domain.TransferProcess, error) {
	s.mu.RLock()
	r, ok := s.tps[id]
	s.mu.RUnlock()
	if !ok {
		return domain.TransferProcess{}, notFound("TP", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next, msg, err := fn(r.data)
	if err != nil {
		return domain.TransferProcess{}, err
	}
	next.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = newID()
	}
	msg.CreatedAt = time.Now().UTC()
	s.tpMessages[id] = append(s.tpMessages[id], msg)
	r.data = next
	return next, nil
}

func (s *Store) ListMessages2(_ context.Context, tpID string) ([]domain.TransferMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.TransferMessage(nil), s.tpMessages[tpID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── DataPlaneRepository ─────────────────────────────────────────────────

func (s *Store) CreateDPP(_ context.Context, dpp domain.DataPlaneProcess) (domain.DataPlaneProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dpp.ID == "" {
		dpp.ID = newID()
	}
	now := time.Now().UTC()
	dpp.CreatedAt, dpp.UpdatedAt = now, now
	s.dpps[dpp.ID] = &row[domain.DataPlaneProcess]{data: dpp}
	return dpp, nil
}

func (s *Store) GetDPPByID(_ context.Context, id string) (domain.DataPlaneProcess, error) {
	s.mu.RLock()
	r, ok := s.dpps[id]
	s.mu.RUnlock()
	if !ok {
		return domain.DataPlaneProcess{}, notFound("DPP", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data, nil
}

func (s *Store) GetDPPByTransferID(_ context.Context, transferID string) (domain.DataPlaneProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.dpps {
		r.mu.Lock()
		match := r.data.TransferID == transferID
		d := r.data
		r.mu.Unlock()
		if match {
			return d, nil
		}
	}
	return domain.DataPlaneProcess{}, notFound("DPP", transferID)
}

func (s *Store) UpdateDPPState(_ context.Context, id string, next domain.DataPlaneState) (domain.DataPlaneProcess, error) {
	s.mu.RLock()
	r, ok := s.dpps[id]
	s.mu.RUnlock()
	if !ok {
		return domain.DataPlaneProcess{}, notFound("DPP", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.State = next
	r.data.UpdatedAt = time.Now().UTC()
	return r.data, nil
}

// ── EventRepository ─────────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub domain.Subscription) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = newID()
	}
	sub.CreatedAt = time.Now().UTC()
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return domain.Subscription{}, notFound("Subscription", id)
	}
	return sub, nil
}

func (s *Store) ListActiveSubscriptions(_ context.Context, category domain.NotificationCategory) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []domain.Subscription
	for _, sub := range s.subscriptions {
		if !sub.Active || now.After(sub.ExpirationTime) {
			continue
		}
		if categoryEnabled(sub, category) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func categoryEnabled(sub domain.Subscription, category domain.NotificationCategory) bool {
	switch category {
	case domain.CategoryTransfer:
		return sub.Transfer
	case domain.CategoryNegotiation:
		return sub.Negotiation
	case domain.CategoryCatalog:
		return sub.Catalog
	case domain.CategoryDataPlane:
		return sub.DataPlane
	default:
		return false
	}
}

func (s *Store) DeactivateExpiredSubscriptions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, sub := range s.subscriptions {
		if sub.Active && now.After(sub.ExpirationTime) {
			sub.Active = false
			s.subscriptions[id] = sub
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = newID()
	}
	n.CreatedAt = time.Now().UTC()
	if n.Status == "" {
		n.Status = domain.NotificationPending
	}
	s.notifications[n.ID] = n
	return n, nil
}

func (s *Store) ListPendingNotifications(_ context.Context, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now().UTC()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.Status == domain.NotificationPending && !n.NextAttemptAt.After(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationOk(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notFound("Notification", id)
	}
	n.Status = domain.NotificationOk
	s.notifications[id] = n
	return nil
}

func (s *Store) RescheduleNotification(_ context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notFound("Notification", id)
	}
	n.Attempts = attempts
	n.NextAttemptAt = nextAttemptAt
	s.notifications[id] = n
	return nil
}

func (s *Store) ListUnpublishedOutboxEvents(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OutboxEvent
	for _, e := range s.outbox {
		if !e.Published {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outbox[id]
	if !ok {
		return notFound("OutboxEvent", id)
	}
	e.Published = true
	s.outbox[id] = e
	return nil
}

// InsertOutboxEvent is a test/dev helper mirroring the postgres
// implementation's same-transaction outbox insert (trm_service.go's
// InsertOutboxEvent call). Engines in this repo call repository methods
// that insert outbox rows as part of UpdateCNPState/UpdateTPState in the
// postgres implementation; the memory store exposes this directly since it
// has no transaction boundary to attach the insert to.
func (s *Store) InsertOutboxEvent(_ context.Context, e domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	s.outbox[e.ID] = e
	return nil
}

var (
	_ repository.NegotiationRepository = (*Store)(nil)
	_ repository.DataPlaneRepository   = (*Store)(nil)
	_ repository.EventRepository       = (*Store)(nil)
)

// TransferRepository is implemented but ListMessages collides in name with
// NegotiationRepository's; expose it under the interface's exact method set
// via a thin adapter so one Store still satisfies both interfaces.
type transferView struct{ *Store }

func (t transferView) ListMessages(ctx context.Context, tpID string) ([]domain.TransferMessage, error) {
	return t.Store.ListMessages2(ctx, tpID)
}

// AsTransferRepository returns a repository.TransferRepository view onto the
// store (needed because Go cannot overload ListMessages by return type).
func (s *Store) AsTransferRepository() repository.TransferRepository { return transferView{s} }
