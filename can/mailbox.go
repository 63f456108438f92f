package can

import "errors"

// ErrPoolExhausted reports that every message-RAM mailbox is assigned.
var ErrPoolExhausted = errors.New("can: mailbox pool exhausted")

// mailboxUse records what a mailbox is assigned to. Assignments are made
// at configuration time and stay fixed until the node is reconfigured;
// there is no runtime reallocation.
type mailboxUse uint8

const (
	mbFree mailboxUse = iota
	mbTx
	mbRx
)

// mailboxPool hands out mailbox indices first-fit in ascending order, so
// a given configuration always lands on the same layout.
type mailboxPool struct {
	use []mailboxUse
}

func newMailboxPool(n int) *mailboxPool {
	return &mailboxPool{use: make([]mailboxUse, n)}
}

func (p *mailboxPool) alloc(u mailboxUse) (int, error) {
	if u == mbFree {
		panic("can: alloc with free use")
	}
	for i, cur := range p.use {
		if cur == mbFree {
			p.use[i] = u
			return i, nil
		}
	}
	return 0, ErrPoolExhausted
}

// free returns a mailbox to the pool. Freeing an unassigned or
// out-of-range index is a programming error.
func (p *mailboxPool) free(i int) {
	if i < 0 || i >= len(p.use) {
		panic("can: mailbox index out of range")
	}
	if p.use[i] == mbFree {
		panic("can: double free of mailbox")
	}
	p.use[i] = mbFree
}

func (p *mailboxPool) reset() {
	for i := range p.use {
		p.use[i] = mbFree
	}
}
