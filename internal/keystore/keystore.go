// Package keystore holds this node's identity keypair and the directory
// mapping peers' offchain packet-routing public keys to their onchain
// settlement addresses, grounded on the teacher's single-key ECDH wrapper
// in keychain/router.go.
package keystore

import (
	"crypto/sha256"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/relaymesh/relayd/internal/channelgraph"
)

// Identity holds the node's offchain (packet-routing) keypair and
// derived onchain settlement address.
type Identity struct {
	OffchainPriv *btcec.PrivateKey
	OnchainAddr  channelgraph.Address
}

// New derives an Identity from an offchain private key. The onchain
// address is a content-addressed hash of the compressed public key,
// matching the "both are content-addressed" invariant from spec §3.
func New(offchainPriv *btcec.PrivateKey) *Identity {
	return &Identity{
		OffchainPriv: offchainPriv,
		OnchainAddr:  AddressFromPubKey(offchainPriv.PubKey()),
	}
}

// AddressFromPubKey derives the onchain settlement address for an
// offchain public key.
func AddressFromPubKey(pub *btcec.PublicKey) channelgraph.Address {
	sum := sha256.Sum256(pub.SerializeCompressed())

	var addr channelgraph.Address
	copy(addr[:], sum[len(sum)-len(addr):])
	return addr
}

// Directory resolves offchain public keys to onchain addresses for known
// peers, satisfying the Packet Processor's AddressResolver dependency.
type Directory struct {
	mu      sync.RWMutex
	addrs   map[[33]byte]channelgraph.Address
	pubkeys map[channelgraph.Address]*btcec.PublicKey
}

// NewDirectory returns an empty peer directory.
func NewDirectory() *Directory {
	return &Directory{
		addrs:   make(map[[33]byte]channelgraph.Address),
		pubkeys: make(map[channelgraph.Address]*btcec.PublicKey),
	}
}

// Learn records the address mapping for a peer's offchain public key,
// called by the Indexer when a node announcement is observed on chain.
func (d *Directory) Learn(pub *btcec.PublicKey, addr channelgraph.Address) {
	var key [33]byte
	copy(key[:], pub.SerializeCompressed())

	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs[key] = addr
	d.pubkeys[addr] = pub
}

// OffchainPubKey implements packet.AddressResolver's reverse direction:
// the next hop's offchain public key for a given onchain address, known
// only for peers this node has learned of. Unlike OnchainAddress this has
// no content-addressed fallback, since the address-to-key derivation is
// one-way.
func (d *Directory) OffchainPubKey(addr channelgraph.Address) (*btcec.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pub, ok := d.pubkeys[addr]
	return pub, ok
}

// OnchainAddress implements packet.AddressResolver: it consults the learned
// mapping first so operator-configured overrides take precedence, and
// otherwise falls back to the content-addressed derivation, so any offchain
// key resolves even if the peer has never announced explicitly.
func (d *Directory) OnchainAddress(offchainPK *btcec.PublicKey) (channelgraph.Address, error) {
	var key [33]byte
	copy(key[:], offchainPK.SerializeCompressed())

	d.mu.RLock()
	addr, ok := d.addrs[key]
	d.mu.RUnlock()

	if ok {
		return addr, nil
	}

	return AddressFromPubKey(offchainPK), nil
}
