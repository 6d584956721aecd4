// Package pattern negotiates short message codes by name and version. Each
// endpoint owns a local Bank; the RegisterPattern message teaches a peer the
// local codes, and the peer's Peers entry records them.
package pattern

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/ghostwire/internal/protocol/wire"
)

var (
	ErrInvalidIdent     = errors.New("pattern: invalid ident")
	ErrBankFull         = errors.New("pattern: bank full")
	ErrMalformed        = errors.New("pattern: malformed register message")
	ErrConflict         = errors.New("pattern: conflicting registration")
	ErrUnknownPeer      = errors.New("pattern: unknown peer")
	ErrAlreadyValidated = errors.New("pattern: peer already validated")
)

// ReservedID is the code of the RegisterPattern message itself.
const ReservedID int16 = 0

// Ident names a message pattern.
type Ident struct {
	Name    string
	Version uint8
}

func (i Ident) String() string {
	return fmt.Sprintf("%s@%d", i.Name, i.Version)
}

func (i Ident) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidIdent)
	}
	if len(i.Name) > math.MaxUint16 {
		return fmt.Errorf("%w: name too long", ErrInvalidIdent)
	}
	return nil
}

// Result is an ident bound to a code.
type Result struct {
	ID    int16
	Ident Ident
}

// Bank maps idents to codes. A local bank assigns codes; a peer bank only
// records codes it was told about.
type Bank struct {
	mu      sync.RWMutex
	byIdent map[Ident]Result
	byID    map[int16]Result
	next    int16
}

func NewBank() *Bank {
	return &Bank{
		byIdent: make(map[Ident]Result),
		byID:    make(map[int16]Result),
		next:    ReservedID + 1,
	}
}

// Register assigns the next code to ident, or returns its existing code.
func (b *Bank) Register(ident Ident) (Result, error) {
	if err := ident.Validate(); err != nil {
		return Result{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.byIdent[ident]; ok {
		return r, nil
	}
	if b.next == math.MaxInt16 {
		return Result{}, ErrBankFull
	}
	r := Result{ID: b.next, Ident: ident}
	b.next++
	b.byIdent[ident] = r
	b.byID[r.ID] = r
	return r, nil
}

func (b *Bank) MustRegister(idents ...Ident) *Bank {
	for _, ident := range idents {
		if _, err := b.Register(ident); err != nil {
			panic(err)
		}
	}
	return b
}

// link records a code assigned by someone else.
func (b *Bank) link(r Result) error {
	if err := r.Ident.Validate(); err != nil {
		return err
	}
	if r.ID == ReservedID {
		return fmt.Errorf("%w: code %d is reserved", ErrConflict, r.ID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if have, ok := b.byID[r.ID]; ok && have.Ident != r.Ident {
		return fmt.Errorf("%w: code %d is %s, got %s", ErrConflict, r.ID, have.Ident, r.Ident)
	}
	if have, ok := b.byIdent[r.Ident]; ok && have.ID != r.ID {
		return fmt.Errorf("%w: %s is code %d, got %d", ErrConflict, r.Ident, have.ID, r.ID)
	}
	b.byIdent[r.Ident] = r
	b.byID[r.ID] = r
	return nil
}

func (b *Bank) Lookup(ident Ident) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.byIdent[ident]
	return r, ok
}

func (b *Bank) ByID(id int16) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.byID[id]
	return r, ok
}

// Results lists every binding ordered by code.
func (b *Bank) Results() []Result {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Result, 0, len(b.byID))
	for _, r := range b.byID {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Result) int { return int(a.ID) - int(b.ID) })
	return out
}

func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// EncodeRegister writes count:int16 then {id:int16, name:string, version:uint8}
// per result.
func EncodeRegister(results []Result) ([]byte, error) {
	if len(results) > math.MaxInt16 {
		return nil, fmt.Errorf("%w: %d patterns", ErrBankFull, len(results))
	}
	w := wire.NewWriter(2 + 16*len(results))
	w.WriteInt16(int16(len(results)))
	for _, r := range results {
		w.WriteInt16(r.ID)
		if err := w.WriteString(r.Ident.Name); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidIdent, r.Ident, err)
		}
		w.WriteUint8(r.Ident.Version)
	}
	return w.Bytes(), nil
}

func DecodeRegister(payload []byte) ([]Result, error) {
	r := wire.NewReader(payload)
	count, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrMalformed, count)
	}
	out := make([]Result, 0, count)
	for i := 0; i < int(count); i++ {
		id, err := r.ReadInt16()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformed, i, err)
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformed, i, err)
		}
		version, err := r.ReadUint8()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrMalformed, i, err)
		}
		out = append(out, Result{ID: id, Ident: Ident{Name: name, Version: version}})
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Remaining())
	}
	return out, nil
}
