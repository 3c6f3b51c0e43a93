// Package session implements the Session Manager: bidirectional sessions
// built over SURB-carrying packets, with an idle reaper and a per-session
// SURB balancer hook.
package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/relaymesh/relayd/internal/surb"
	"github.com/relaymesh/relayd/internal/surbbalancer"
)

// ID identifies a session.
type ID [16]byte

// defaultIdleTimeout and defaultOpenTimeout match the contract's production
// defaults; tests override these via Config.
const (
	defaultIdleTimeout  = 5 * time.Minute
	defaultOpenTimeout  = 30 * time.Second
	defaultTargetBuffer = 10
	idleReaperInterval  = 1 * time.Second
)

// Capabilities is a bitmask of session-level capability flags negotiated at
// open time.
type Capabilities uint32

// maxFragmentPayload approximates the usable payload capacity of one
// Sphinx-sized wire packet once onion and final-header overhead are
// accounted for; Send splits larger payloads across multiple packets.
const maxFragmentPayload = 1024

// Session is the manager's view of one open bidirectional session.
type Session struct {
	ID            ID
	PeerPseudonym surb.Pseudonym
	ForwardRoute  []byte
	ReturnRoute   []byte
	Capabilities  Capabilities
	SURBBalancer  *surbbalancer.Balancer // nil when surb_management is None
	LastActivity  time.Time
	IdleTimeout   time.Duration

	// AlwaysMaxOutSURBs is piggybacked on every outgoing fragment
	// regardless of what the SURB Balancer schedules; the sole SURB
	// replenishment source when SURBBalancer is nil.
	AlwaysMaxOutSURBs int

	destination []byte

	close *closeNegotiator
}

// ErrNonExistingSession is returned for operations against a session id
// that is unknown or has been reaped.
type ErrNonExistingSession struct{ ID ID }

func (e *ErrNonExistingSession) Error() string {
	return fmt.Sprintf("session %x does not exist", e.ID[:4])
}

// ErrOpenTimeout describes a peer's open confirmation not arriving within
// the bounded window. No Manager method returns it: Open does not wait for
// or track confirmation, and OpenConfig.OpenTimeout is not enforced.
type ErrOpenTimeout struct{ ID ID }

func (e *ErrOpenTimeout) Error() string {
	return fmt.Sprintf("session %x: open confirmation timed out", e.ID[:4])
}

// OpenConfig configures a newly opened session.
type OpenConfig struct {
	IdleTimeout        time.Duration
	OpenTimeout        time.Duration
	TargetSURBBuffer   int
	AlwaysMaxOutSURBs  int
	SURBBalancerConfig *surbbalancer.Config // nil disables the balancer
}

func (c OpenConfig) withDefaults() OpenConfig {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	if c.TargetSURBBuffer == 0 {
		c.TargetSURBBuffer = defaultTargetBuffer
	}
	return c
}

// SendFrame dispatches raw session control/data frames to a destination;
// the Packet Processor's outgoing side implements this.
type SendFrame func(dst []byte, frame []byte) error

// Manager tracks all locally-open sessions and reaps idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[ID]*Session

	clock clock.Clock
	surbs *surb.Store
	send  SendFrame

	reaper *ticker.Ticker
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager. clk lets tests control time deterministically.
// surbs is the reserve Send draws piggyback SURBs from.
func New(clk clock.Clock, surbs *surb.Store, send SendFrame) *Manager {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	m := &Manager{
		sessions: make(map[ID]*Session),
		clock:    clk,
		surbs:    surbs,
		send:     send,
		reaper:   ticker.New(idleReaperInterval),
		quit:     make(chan struct{}),
	}

	return m
}

// Start begins the idle reaper loop.
func (m *Manager) Start() {
	m.reaper.Resume()
	m.wg.Add(1)
	go m.reapLoop()
}

// Stop halts the idle reaper loop.
func (m *Manager) Stop() {
	close(m.quit)
	m.reaper.Stop()
	m.wg.Wait()
}

func (m *Manager) reapLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.reaper.Ticks():
			m.reapIdle()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) reapIdle() {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > s.IdleTimeout {
			delete(m.sessions, id)
		}
	}
}

func newPseudonym() (surb.Pseudonym, error) {
	var p surb.Pseudonym
	if _, err := rand.Read(p[:]); err != nil {
		return p, err
	}
	return p, nil
}

func newSessionID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// Open reserves a fresh pseudonym, dispatches an open control frame to
// destination, and registers the resulting session. It returns once the
// frame is sent; the Manager neither waits for the peer's confirmation nor
// tracks it, so a session is usable whether or not the peer confirms.
func (m *Manager) Open(destination []byte, cfg OpenConfig) (*Session, error) {
	cfg = cfg.withDefaults()

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}

	pseudonym, err := newPseudonym()
	if err != nil {
		return nil, fmt.Errorf("session: generate pseudonym: %w", err)
	}

	var balancer *surbbalancer.Balancer
	if cfg.SURBBalancerConfig != nil {
		balancer = surbbalancer.New(*cfg.SURBBalancerConfig, m.clock)
	}

	s := &Session{
		ID:                id,
		PeerPseudonym:     pseudonym,
		Capabilities:      0,
		SURBBalancer:      balancer,
		LastActivity:      m.clock.Now(),
		IdleTimeout:       cfg.IdleTimeout,
		AlwaysMaxOutSURBs: cfg.AlwaysMaxOutSURBs,
		destination:       destination,
	}
	s.close = newCloseNegotiator(id, true, func() error {
		return m.send(destination, closeFrame(id))
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if err := m.send(destination, openFrame(id, pseudonym, cfg.TargetSURBBuffer)); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("session: send open frame: %w", err)
	}

	return s, nil
}

// KeepAlive refreshes a session's last-activity timestamp.
func (m *Manager) KeepAlive(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNonExistingSession{ID: id}
	}

	s.LastActivity = m.clock.Now()
	return nil
}

// Get returns the session for id, if it exists.
func (m *Manager) Get(id ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNonExistingSession{ID: id}
	}
	return s, nil
}

// GetSURBBalancerConfig returns the session's current balancer
// configuration, or false if the balancer is disabled for this session.
func (m *Manager) GetSURBBalancerConfig(id ID) (surbbalancer.Config, bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return surbbalancer.Config{}, false, err
	}

	if s.SURBBalancer == nil {
		return surbbalancer.Config{}, false, nil
	}

	return s.SURBBalancer.Config(), true, nil
}

// UpdateSURBBalancerConfig updates the per-session balancer control law.
func (m *Manager) UpdateSURBBalancerConfig(id ID, cfg surbbalancer.Config) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	if s.SURBBalancer == nil {
		s.SURBBalancer = surbbalancer.New(cfg, m.clock)
		return nil
	}

	s.SURBBalancer.UpdateConfig(cfg)
	return nil
}

// Send fragments payload into packet-sized chunks and dispatches each via
// SendFrame, piggybacking as many SURBs as AlwaysMaxOutSURBs plus whatever
// the session's SURB Balancer currently schedules, drawn from the SURB
// Store.
func (m *Manager) Send(id ID, payload []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return &ErrNonExistingSession{ID: id}
	}

	chunks := fragment(payload, maxFragmentPayload)

	for _, chunk := range chunks {
		n := s.AlwaysMaxOutSURBs
		if s.SURBBalancer != nil {
			n += s.SURBBalancer.NextBatchSize()
		}

		piggybacked := m.drawSURBs(s.PeerPseudonym, n)

		if err := m.send(s.destination, dataFrame(id, chunk, piggybacked)); err != nil {
			return fmt.Errorf("session: send fragment: %w", err)
		}
	}

	m.mu.Lock()
	s.LastActivity = m.clock.Now()
	m.mu.Unlock()

	return nil
}

// drawSURBs pops up to n SURBs off pseudonym's reserve, stopping early if
// the store runs dry.
func (m *Manager) drawSURBs(pseudonym surb.Pseudonym, n int) [][]byte {
	if m.surbs == nil || n <= 0 {
		return nil
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		popped, ok := m.surbs.PopOne(pseudonym)
		if !ok {
			break
		}
		out = append(out, popped.SURB)
	}
	return out
}

// fragment splits payload into chunks of at most size bytes. An empty
// payload still yields one (empty) chunk so Send always dispatches at
// least one frame.
func fragment(payload []byte, size int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{nil}
	}

	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := size
		if n > len(payload) {
			n = len(payload)
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}

// Close emits a close control frame and removes local session state for
// id. Closing an already-closed or unknown session is an error.
func (m *Manager) Close(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return &ErrNonExistingSession{ID: id}
	}

	if err := s.close.initClose(); err != nil {
		return err
	}

	delete(m.sessions, id)
	return nil
}

const (
	frameKindOpen  byte = 0x01
	frameKindClose byte = 0x02
	frameKindData  byte = 0x03
)

func openFrame(id ID, pseudonym surb.Pseudonym, targetBuffer int) []byte {
	frame := make([]byte, 0, 1+len(id)+len(pseudonym)+4)
	frame = append(frame, frameKindOpen)
	frame = append(frame, id[:]...)
	frame = append(frame, pseudonym[:]...)
	frame = append(frame, byte(targetBuffer>>24), byte(targetBuffer>>16), byte(targetBuffer>>8), byte(targetBuffer))
	return frame
}

func closeFrame(id ID) []byte {
	frame := make([]byte, 0, 1+len(id))
	frame = append(frame, frameKindClose)
	frame = append(frame, id[:]...)
	return frame
}

// dataFrame encodes a payload fragment plus its piggybacked SURBs:
// kind || id || surb_count (2B) || (surb_len (2B) || surb_bytes)* || chunk.
func dataFrame(id ID, chunk []byte, piggybacked [][]byte) []byte {
	size := 1 + len(id) + 2
	for _, s := range piggybacked {
		size += 2 + len(s)
	}
	size += len(chunk)

	frame := make([]byte, 0, size)
	frame = append(frame, frameKindData)
	frame = append(frame, id[:]...)
	frame = append(frame, byte(len(piggybacked)>>8), byte(len(piggybacked)))

	for _, s := range piggybacked {
		frame = append(frame, byte(len(s)>>8), byte(len(s)))
		frame = append(frame, s...)
	}

	frame = append(frame, chunk...)
	return frame
}
