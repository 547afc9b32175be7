package ioq

import "sync"

// mailboxMode records what kind of wait, if any, is currently armed on a
// Mailbox.
type mailboxMode int

const (
	mailboxNone mailboxMode = iota
	mailboxAny
	mailboxAll
)

// Mailbox is a 32-flag async signal object: any goroutine may raise bits
// at any time, and at most one waiter may be armed at a time to be
// woken when the raised bits satisfy either an "any of this set" or an
// "all of this set" condition. A satisfied wait's callback runs via the
// RunQueue.
type Mailbox struct {
	task Task

	mu       sync.Mutex
	bits     uint32
	expected uint32
	mode     mailboxMode
	cb       func(*Mailbox)
}

// MailboxInit binds m to rq with all flags clear and no wait armed.
func MailboxInit(m *Mailbox, rq *RunQueue) {
	InitTask(&m.task, rq)
	m.bits = 0
	m.expected = 0
	m.mode = mailboxNone
	m.cb = nil
}

// Take atomically clears clearMask from the bit set and returns the
// bits that were set immediately beforehand, letting a caller consume a
// signal without racing a concurrent Raise.
func (m *Mailbox) Take(clearMask uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.bits
	m.bits &^= clearMask
	return before
}

// Raise ORs setMask into the bit set and, if an armed wait's condition
// is now satisfied, submits its callback. The condition is evaluated
// and the mode is cleared to "none" before the task is submitted to the
// RunQueue -- never after -- so a callback that immediately re-arms a
// new wait on the same Mailbox from within its own execution never
// observes a mode the runtime is still about to clear out from under
// it.
func (m *Mailbox) Raise(setMask uint32) {
	m.mu.Lock()
	m.bits |= setMask

	var fire bool
	switch m.mode {
	case mailboxAny:
		fire = m.bits&m.expected != 0
	case mailboxAll:
		fire = m.bits&m.expected == m.expected
	}

	var cb func(*Mailbox)
	if fire {
		cb = m.cb
		m.mode = mailboxNone
		m.cb = nil
	}
	m.mu.Unlock()

	if fire {
		m.task.Exec(func(*Task) { cb(m) })
	}
}

// Wait arms cb to fire the next time any bit in set becomes raised. If
// any bit in set is already raised, cb fires immediately (via a single
// RunQueue hop, not inline) rather than waiting for a future Raise.
func (m *Mailbox) Wait(set uint32, cb func(*Mailbox)) {
	m.arm(mailboxAny, set, cb)
}

// WaitAll arms cb to fire only once every bit in set has been raised
// (possibly across several separate Raise calls).
func (m *Mailbox) WaitAll(set uint32, cb func(*Mailbox)) {
	m.arm(mailboxAll, set, cb)
}

func (m *Mailbox) arm(mode mailboxMode, set uint32, cb func(*Mailbox)) {
	m.mu.Lock()

	var fire bool
	switch mode {
	case mailboxAny:
		fire = m.bits&set != 0
	case mailboxAll:
		fire = m.bits&set == set
	}

	if fire {
		m.mu.Unlock()
		m.task.Exec(func(*Task) { cb(m) })
		return
	}

	m.expected = set
	m.mode = mode
	m.cb = cb
	m.mu.Unlock()
}

// Cancel de-arms any wait currently in flight without invoking it.
func (m *Mailbox) Cancel() {
	m.mu.Lock()
	m.mode = mailboxNone
	m.cb = nil
	m.mu.Unlock()
}
