package coretest

import (
	"errors"
	"sync"
)

var ErrChannelClosed = errors.New("data channel closed")

// DataChannel is an in-memory core.DataChannel. Open, Deliver and
// RemoteClose drive the registered handlers from the test goroutine.
type DataChannel struct {
	label string

	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func(string)
	sent      []string
	closed    bool
	closes    int
}

func NewDataChannel(label string) *DataChannel {
	return &DataChannel{label: label}
}

func (d *DataChannel) Label() string { return d.label }

func (d *DataChannel) SendText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrChannelClosed
	}
	d.sent = append(d.sent, text)
	return nil
}

func (d *DataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
}

func (d *DataChannel) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

func (d *DataChannel) OnMessage(fn func(string)) {
	d.mu.Lock()
	d.onMessage = fn
	d.mu.Unlock()
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	d.closes++
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (d *DataChannel) Open() {
	d.mu.Lock()
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *DataChannel) Deliver(text string) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// RemoteClose closes the channel as if the remote side hung up.
func (d *DataChannel) RemoteClose() { _ = d.Close() }

func (d *DataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *DataChannel) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DataChannel) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}
