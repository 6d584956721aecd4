package pattern

import (
	"fmt"
	"sync"
)

type peerBank struct {
	bank      *Bank
	validated bool
}

// Peers holds one remote bank per connected peer.
type Peers[K comparable] struct {
	mu    sync.RWMutex
	banks map[K]*peerBank
}

func NewPeers[K comparable]() *Peers[K] {
	return &Peers[K]{banks: make(map[K]*peerBank)}
}

func (p *Peers[K]) Add(peer K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.banks[peer]; !ok {
		p.banks[peer] = &peerBank{bank: NewBank()}
	}
}

func (p *Peers[K]) Remove(peer K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.banks, peer)
}

// Link records the peer's RegisterPattern results and marks the peer as
// validated. A peer is validated once per connection.
func (p *Peers[K]) Link(peer K, results []Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pb, ok := p.banks[peer]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownPeer, peer)
	}
	if pb.validated {
		return fmt.Errorf("%w: %v", ErrAlreadyValidated, peer)
	}
	for _, r := range results {
		if err := pb.bank.link(r); err != nil {
			return err
		}
	}
	pb.validated = true
	return nil
}

func (p *Peers[K]) Validated(peer K) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pb, ok := p.banks[peer]
	return ok && pb.validated
}

// Resolve maps a code received from peer to its ident.
func (p *Peers[K]) Resolve(peer K, id int16) (Ident, bool) {
	p.mu.RLock()
	pb, ok := p.banks[peer]
	p.mu.RUnlock()
	if !ok {
		return Ident{}, false
	}
	r, ok := pb.bank.ByID(id)
	return r.Ident, ok
}

// Code maps ident to the code peer uses for it.
func (p *Peers[K]) Code(peer K, ident Ident) (int16, bool) {
	p.mu.RLock()
	pb, ok := p.banks[peer]
	p.mu.RUnlock()
	if !ok {
		return 0, false
	}
	r, ok := pb.bank.Lookup(ident)
	return r.ID, ok
}

func (p *Peers[K]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.banks)
}
