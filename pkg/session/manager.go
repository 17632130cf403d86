// Package session manages the client's persistent identity: the session id
// and open tabs saved across restarts, the server-reconciled view of both,
// and the queue of events that occurred while the client was disconnected.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
	"github.com/codeready-toolchain/pipewatch/pkg/restapi"
)

// Persistence stores the session locally across restarts.
type Persistence interface {
	LoadSession(ctx context.Context) (models.Session, bool, error)
	SaveSession(ctx context.Context, s models.Session) error
}

// API is the slice of the REST client the manager consumes.
type API interface {
	RestoreSession(ctx context.Context, req restapi.RestoreRequest) (restapi.RestoreResponse, error)
	AckEvents(ctx context.Context, eventIDs []string) error
}

// Manager owns the session record and the offline-event queue.
//
// The queue only shrinks through Acknowledge, and only after the server
// accepted the acknowledgement: a failed call leaves the events visible for
// retry. An id that was acknowledged once never re-enters the queue, even if
// the server re-delivers its notice.
type Manager struct {
	persistence Persistence
	api         API
	logger      *slog.Logger

	mu      sync.Mutex
	session models.Session
	queue   []models.OfflineEvent
	acked   map[string]bool
}

// NewManager creates a Manager. logger may be nil.
func NewManager(persistence Persistence, api API, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		persistence: persistence,
		api:         api,
		logger:      logger,
		acked:       make(map[string]bool),
	}
}

// Restore loads the persisted session, sends it to the server, and adopts
// the server's authoritative view of tabs and active tab. Events missed
// while disconnected are queued for acknowledgement.
//
// When the server is unreachable the locally persisted session (or a fresh
// provisional one) stays in effect so the client can keep operating; the
// error is returned for the caller to surface.
func (m *Manager) Restore(ctx context.Context) error {
	saved, found, err := m.persistence.LoadSession(ctx)
	if err != nil {
		m.logger.Warn("Could not load persisted session", "error", err)
	}
	if !found {
		saved = models.Session{ID: uuid.New().String()}
	}

	m.mu.Lock()
	m.session = saved
	m.mu.Unlock()

	resp, err := m.api.RestoreSession(ctx, restapi.RestoreRequest{
		SessionID: saved.ID,
		Tabs:      saved.Tabs,
		ActiveTab: saved.ActiveTab,
	})
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	restored := models.Session{
		ID:        resp.SessionID,
		Tabs:      resp.Tabs,
		ActiveTab: resp.ActiveTab,
		UpdatedAt: time.Now().UTC(),
	}
	if restored.ID == "" {
		restored.ID = saved.ID
	}

	m.mu.Lock()
	m.session = restored
	m.mu.Unlock()

	for _, evt := range resp.MissedEvents {
		m.Enqueue(evt)
	}

	if err := m.persist(ctx); err != nil {
		m.logger.Warn("Could not persist restored session", "error", err)
	}
	return nil
}

// Session returns a copy of the current session.
func (m *Manager) Session() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	s.Tabs = make([]models.Tab, len(m.session.Tabs))
	copy(s.Tabs, m.session.Tabs)
	return s
}

// OpenTab opens (or re-activates) a tab for a ticket and persists the change.
func (m *Manager) OpenTab(ctx context.Context, ticketKey, pipelineID string) error {
	m.mu.Lock()
	exists := false
	for i := range m.session.Tabs {
		if m.session.Tabs[i].TicketKey == ticketKey {
			if pipelineID != "" {
				m.session.Tabs[i].PipelineID = pipelineID
			}
			exists = true
			break
		}
	}
	if !exists {
		m.session.Tabs = append(m.session.Tabs, models.Tab{
			TicketKey:  ticketKey,
			PipelineID: pipelineID,
			Position:   len(m.session.Tabs),
		})
	}
	m.session.ActiveTab = ticketKey
	m.mu.Unlock()

	return m.persist(ctx)
}

// CloseTab removes a tab and persists the change. Closing the active tab
// activates the previous one.
func (m *Manager) CloseTab(ctx context.Context, ticketKey string) error {
	m.mu.Lock()
	tabs := m.session.Tabs[:0]
	for _, tab := range m.session.Tabs {
		if tab.TicketKey != ticketKey {
			tab.Position = len(tabs)
			tabs = append(tabs, tab)
		}
	}
	m.session.Tabs = tabs
	if m.session.ActiveTab == ticketKey {
		m.session.ActiveTab = ""
		if len(tabs) > 0 {
			m.session.ActiveTab = tabs[len(tabs)-1].TicketKey
		}
	}
	m.mu.Unlock()

	return m.persist(ctx)
}

// SetActiveTab activates an already-open tab and persists the change.
func (m *Manager) SetActiveTab(ctx context.Context, ticketKey string) error {
	m.mu.Lock()
	found := false
	for _, tab := range m.session.Tabs {
		if tab.TicketKey == ticketKey {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return fmt.Errorf("no open tab for ticket %s", ticketKey)
	}
	m.session.ActiveTab = ticketKey
	m.mu.Unlock()

	return m.persist(ctx)
}

// SetTabPipeline records the pipeline pointer for a ticket's tab.
func (m *Manager) SetTabPipeline(ctx context.Context, ticketKey, pipelineID string) error {
	m.mu.Lock()
	for i := range m.session.Tabs {
		if m.session.Tabs[i].TicketKey == ticketKey {
			m.session.Tabs[i].PipelineID = pipelineID
			m.mu.Unlock()
			return m.persist(ctx)
		}
	}
	m.mu.Unlock()
	return fmt.Errorf("no open tab for ticket %s", ticketKey)
}

// Enqueue adds an offline event to the unacknowledged queue. Duplicates and
// already-acknowledged ids are dropped.
func (m *Manager) Enqueue(evt models.OfflineEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.acked[evt.ID] {
		return
	}
	for _, queued := range m.queue {
		if queued.ID == evt.ID {
			return
		}
	}
	m.queue = append(m.queue, evt)
}

// EnqueueNotice converts a live offline-event notice and queues it.
func (m *Manager) EnqueueNotice(n protocol.OfflineEventNotice) {
	m.Enqueue(models.OfflineEvent{
		ID:         n.EventID,
		Category:   models.OfflineEventCategory(n.Category),
		PipelineID: n.PipelineID,
		Payload:    n.Payload,
		OccurredAt: protocol.ParseTimestamp(n.OccurredAt),
	})
}

// Pending returns a copy of the unacknowledged queue.
func (m *Manager) Pending() []models.OfflineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.OfflineEvent, len(m.queue))
	copy(out, m.queue)
	return out
}

// Acknowledge tells the server the given events were seen and removes them
// from the queue. The local queue is only mutated after the call succeeds,
// so a failure leaves every event visible for retry.
func (m *Manager) Acknowledge(ctx context.Context, eventIDs ...string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	if err := m.api.AckEvents(ctx, eventIDs); err != nil {
		return fmt.Errorf("acknowledge events: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		drop[id] = true
		m.acked[id] = true
	}
	queue := m.queue[:0]
	for _, evt := range m.queue {
		if !drop[evt.ID] {
			queue = append(queue, evt)
		}
	}
	m.queue = queue
	return nil
}

// AcknowledgeAll acknowledges every pending event in one call.
func (m *Manager) AcknowledgeAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, len(m.queue))
	for i, evt := range m.queue {
		ids[i] = evt.ID
	}
	m.mu.Unlock()

	return m.Acknowledge(ctx, ids...)
}

func (m *Manager) persist(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	s.Tabs = make([]models.Tab, len(m.session.Tabs))
	copy(s.Tabs, m.session.Tabs)
	s.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	if err := m.persistence.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
