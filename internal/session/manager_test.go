package session

import (
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/relaymesh/relayd/internal/surb"
	"github.com/relaymesh/relayd/internal/surbbalancer"
	"github.com/stretchr/testify/require"
)

type capturedFrame struct {
	dst   []byte
	frame []byte
}

func recordingSend() (SendFrame, func() []capturedFrame) {
	var mu sync.Mutex
	var sent []capturedFrame

	send := func(dst, frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, capturedFrame{dst: dst, frame: frame})
		return nil
	}

	get := func() []capturedFrame {
		mu.Lock()
		defer mu.Unlock()
		out := make([]capturedFrame, len(sent))
		copy(out, sent)
		return out
	}

	return send, get
}

func TestOpenRegistersSessionAndSendsOpenFrame(t *testing.T) {
	send, sent := recordingSend()
	m := New(clock.NewDefaultClock(), surb.New(surb.DefaultCapacity), send)

	s, err := m.Open([]byte("dest"), OpenConfig{})
	require.NoError(t, err)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	frames := sent()
	require.Len(t, frames, 1)
	require.Equal(t, frameKindOpen, frames[0].frame[0])
}

func TestGetUnknownSessionErrors(t *testing.T) {
	send, _ := recordingSend()
	m := New(clock.NewDefaultClock(), surb.New(surb.DefaultCapacity), send)

	var id ID
	_, err := m.Get(id)

	var target *ErrNonExistingSession
	require.ErrorAs(t, err, &target)
}

func TestCloseRemovesSessionAndSendsCloseFrame(t *testing.T) {
	send, sent := recordingSend()
	m := New(clock.NewDefaultClock(), surb.New(surb.DefaultCapacity), send)

	s, err := m.Open([]byte("dest"), OpenConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Close(s.ID))

	_, err = m.Get(s.ID)
	require.Error(t, err)

	frames := sent()
	require.Len(t, frames, 2)
	require.Equal(t, frameKindClose, frames[1].frame[0])
}

func TestCloseUnknownSessionErrors(t *testing.T) {
	send, _ := recordingSend()
	m := New(clock.NewDefaultClock(), surb.New(surb.DefaultCapacity), send)

	var id ID
	err := m.Close(id)
	require.Error(t, err)
}

func TestKeepAliveRefreshesLastActivity(t *testing.T) {
	testClock := clock.NewTestClock(time.Now())
	send, _ := recordingSend()
	m := New(testClock, surb.New(surb.DefaultCapacity), send)

	s, err := m.Open([]byte("dest"), OpenConfig{})
	require.NoError(t, err)
	initial := s.LastActivity

	testClock.SetTime(initial.Add(time.Minute))
	require.NoError(t, m.KeepAlive(s.ID))

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	require.True(t, got.LastActivity.After(initial))
}

func TestIdleSessionIsReaped(t *testing.T) {
	testClock := clock.NewTestClock(time.Now())
	send, _ := recordingSend()
	m := New(testClock, surb.New(surb.DefaultCapacity), send)

	s, err := m.Open([]byte("dest"), OpenConfig{})
	require.NoError(t, err)

	testClock.SetTime(testClock.Now().Add(defaultIdleTimeout + time.Second))
	m.reapIdle()

	_, err = m.Get(s.ID)
	require.Error(t, err)
}

func TestIdleSessionHonorsConfiguredTimeout(t *testing.T) {
	testClock := clock.NewTestClock(time.Now())
	send, _ := recordingSend()
	m := New(testClock, surb.New(surb.DefaultCapacity), send)

	short := 2500 * time.Millisecond
	s, err := m.Open([]byte("dest"), OpenConfig{IdleTimeout: short})
	require.NoError(t, err)
	require.Equal(t, short, s.IdleTimeout)

	// Short of the configured timeout, the session must survive a reap;
	// once past it, still far short of the package-level default, it
	// must be reaped.
	testClock.SetTime(testClock.Now().Add(short - time.Second))
	m.reapIdle()

	_, err = m.Get(s.ID)
	require.NoError(t, err)

	testClock.SetTime(testClock.Now().Add(2 * time.Second))
	m.reapIdle()

	_, err = m.Get(s.ID)
	require.Error(t, err)
}

func TestSendFragmentsPayloadAndPiggybacksSURBs(t *testing.T) {
	send, sent := recordingSend()
	store := surb.New(surb.DefaultCapacity)
	m := New(clock.NewDefaultClock(), store, send)

	s, err := m.Open([]byte("dest"), OpenConfig{AlwaysMaxOutSURBs: 2})
	require.NoError(t, err)

	store.Push(s.PeerPseudonym, []surb.Entry{
		{ID: surb.ID{1}, SURB: []byte("surb-one")},
		{ID: surb.ID{2}, SURB: []byte("surb-two")},
	})

	payload := make([]byte, maxFragmentPayload+10)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, m.Send(s.ID, payload))

	frames := sent()
	// One open frame plus two data fragments.
	require.Len(t, frames, 3)
	require.Equal(t, frameKindData, frames[1].frame[0])
	require.Equal(t, frameKindData, frames[2].frame[0])

	// The first fragment's piggyback count is encoded right after the id.
	surbCountOffset := 1 + len(s.ID)
	got := int(frames[1].frame[surbCountOffset])<<8 | int(frames[1].frame[surbCountOffset+1])
	require.Equal(t, 2, got)
}

func TestSendUnknownSessionErrors(t *testing.T) {
	send, _ := recordingSend()
	m := New(clock.NewDefaultClock(), surb.New(surb.DefaultCapacity), send)

	var id ID
	err := m.Send(id, []byte("hi"))

	var target *ErrNonExistingSession
	require.ErrorAs(t, err, &target)
}

func TestUpdateSURBBalancerConfigEnablesBalancer(t *testing.T) {
	send, _ := recordingSend()
	m := New(clock.NewDefaultClock(), surb.New(surb.DefaultCapacity), send)

	s, err := m.Open([]byte("dest"), OpenConfig{})
	require.NoError(t, err)
	require.Nil(t, s.SURBBalancer)

	cfg := surbbalancer.Config{TargetSURBBuffer: 5, MaxSURBsPerSec: 10}
	require.NoError(t, m.UpdateSURBBalancerConfig(s.ID, cfg))

	got, enabled, err := m.GetSURBBalancerConfig(s.ID)
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, cfg, got)
}
