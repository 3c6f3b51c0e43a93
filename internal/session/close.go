package session

import "fmt"

// closeNegotiator is a small sent/received state machine for session
// teardown: isClosed reports true once both sides' close frames have been
// exchanged. Manager.Close removes local state right after sending our
// close frame and does not wait for the peer's.
type closeNegotiator struct {
	sessionID ID

	weOpened  bool
	localInit bool

	sent     bool
	received bool

	sendCloseFrame func() error
}

func newCloseNegotiator(id ID, weOpened bool, send func() error) *closeNegotiator {
	return &closeNegotiator{
		sessionID:      id,
		weOpened:       weOpened,
		sendCloseFrame: send,
	}
}

// initClose begins a locally-initiated close, sending our close frame
// immediately.
func (c *closeNegotiator) initClose() error {
	if c.localInit {
		return fmt.Errorf("session: close already requested for %x", c.sessionID)
	}

	c.localInit = true

	if err := c.sendCloseFrame(); err != nil {
		return err
	}
	c.sent = true
	return nil
}

// recvClose records an incoming close frame from the peer.
func (c *closeNegotiator) recvClose() error {
	if c.received {
		return fmt.Errorf("session: close already received for %x", c.sessionID)
	}

	c.received = true
	return nil
}

// isClosed reports whether both sides have exchanged a close frame.
func (c *closeNegotiator) isClosed() bool {
	return c.sent && c.received
}
