package rt

import (
	"fmt"
	"unsafe"
)

// A SignalPage is one real OS page used for memory-protection based
// suspension of native mutator threads. Safepoint polls read a word
// from the page; arming it revokes read access, so the next poll traps
// into the embedder's fault handler. This is the hardware counterpart
// of the model page inside a World.
type SignalPage struct {
	page  []byte
	armed bool
}

// NewSignalPage maps one readable page. Close it when done.
func NewSignalPage() (*SignalPage, error) {
	b, err := mapSignalPage()
	if err != nil {
		return nil, fmt.Errorf("rt: mapping signal page: %w", err)
	}
	return &SignalPage{page: b}, nil
}

// Addr returns the address safepoint polls should read.
func (p *SignalPage) Addr() uintptr {
	return uintptr(unsafe.Pointer(&p.page[0]))
}

// Armed reports whether the page is protected.
func (p *SignalPage) Armed() bool { return p.armed }

// Arm revokes read access to the page.
func (p *SignalPage) Arm() error {
	if p.armed {
		return nil
	}
	if err := protectPage(p.page, false); err != nil {
		return fmt.Errorf("rt: arming signal page: %w", err)
	}
	p.armed = true
	return nil
}

// Disarm restores read access to the page.
func (p *SignalPage) Disarm() error {
	if !p.armed {
		return nil
	}
	if err := protectPage(p.page, true); err != nil {
		return fmt.Errorf("rt: disarming signal page: %w", err)
	}
	p.armed = false
	return nil
}

// Poll reads the page the way lowered code does. An armed page would
// trap the whole process, so Poll refuses instead; only code with a
// fault handler installed should touch an armed page.
func (p *SignalPage) Poll() (byte, error) {
	if p.armed {
		return 0, fmt.Errorf("rt: poll of armed signal page %#x would fault", p.Addr())
	}
	return p.page[0], nil
}

// Close unmaps the page. The page is disarmed first so the mapping is
// released cleanly.
func (p *SignalPage) Close() error {
	if p.page == nil {
		return nil
	}
	if err := p.Disarm(); err != nil {
		return err
	}
	err := unmapPage(p.page)
	p.page = nil
	return err
}
