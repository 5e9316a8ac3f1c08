package webrtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

const (
	HighWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	LowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// Channel wraps the control DataChannel with an open gate and backpressure.
type Channel struct {
	raw       *webrtc.DataChannel
	open      chan struct{}
	sendReady chan struct{}
}

func newChannel(raw *webrtc.DataChannel) *Channel {
	ch := &Channel{
		raw:       raw,
		open:      make(chan struct{}),
		sendReady: make(chan struct{}, 1),
	}

	var once sync.Once
	raw.OnOpen(func() { once.Do(func() { close(ch.open) }) })

	raw.SetBufferedAmountLowThreshold(uint64(LowWaterMark))
	raw.OnBufferedAmountLow(func() {
		select {
		case ch.sendReady <- struct{}{}:
		default:
		}
	})
	return ch
}

// Ready is closed once the channel opens.
func (c *Channel) Ready() <-chan struct{} { return c.open }

// SendText waits for the channel to open, then for the buffer to drain below
// the high-water mark, and sends s.
func (c *Channel) SendText(ctx context.Context, s string) error {
	select {
	case <-c.open:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.raw.BufferedAmount() > uint64(HighWaterMark) {
		select {
		case <-c.sendReady:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.raw.SendText(s)
}

// OnText registers a callback for text messages.
func (c *Channel) OnText(fn func(string)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			fn(string(msg.Data))
		}
	})
}

// OnClose proxies the underlying DataChannel.
func (c *Channel) OnClose(fn func()) { c.raw.OnClose(fn) }
