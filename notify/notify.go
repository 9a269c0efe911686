// Package notify delivers one-time codes and single-use links over email,
// SMS, and push.
//
// A [Dispatcher] fans a [Message] out to every configured [Channel]
// concurrently, each under its own timeout, and reports a [Result] per
// channel. Delivery is best effort: the caller decides what a total failure
// means.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// ErrNoDestination is reported by a channel when the recipient has no
// address for it.
var ErrNoDestination = errors.New("recipient has no destination for channel")

// Recipient is where a code can be delivered.
type Recipient struct {
	AccountID string
	Name      string
	Email     string
	Phone     string
	PushToken string
}

// Purpose says what a Message's code is for.
type Purpose string

const (
	PurposeMFA               Purpose = "mfa_code"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

// Message is one code or token notice. An empty Purpose is PurposeMFA.
type Message struct {
	Purpose Purpose
	Subject string
	Code    string
	TTL     time.Duration
}

// Kind returns the effective purpose.
func (m Message) Kind() Purpose {
	if m.Purpose == "" {
		return PurposeMFA
	}
	return m.Purpose
}

// Text renders the plain-text body shared by every channel.
func (m Message) Text() string {
	switch m.Kind() {
	case PurposePasswordReset:
		return "Use this token to reset your AgriVision password: " + m.Code +
			". It expires in " + expiry(m.TTL) + ". If you did not ask for a reset, ignore this message."
	case PurposeEmailVerification:
		return "Use this token to verify your AgriVision email address: " + m.Code +
			". It expires in " + expiry(m.TTL) + "."
	}
	return "Your AgriVision verification code is " + m.Code + ". It expires in " + expiry(m.TTL) + "."
}

func expiry(ttl time.Duration) string {
	if ttl >= 2*time.Hour {
		return strconv.Itoa(int(ttl.Round(time.Hour)/time.Hour)) + " hours"
	}
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return strconv.Itoa(minutes) + " minutes"
}

// Channel is one delivery transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, to Recipient, msg Message) error
}

// Result is the outcome of one channel.
type Result struct {
	Channel string
	Err     error
}

// Dispatcher sends through all channels in parallel.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
}

func NewDispatcher(timeout time.Duration, channels ...Channel) *Dispatcher {
	out := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if c != nil {
			out = append(out, c)
		}
	}
	return &Dispatcher{channels: out, timeout: timeout}
}

// Channels returns the configured channel names in registration order.
func (d *Dispatcher) Channels() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name()
	}
	return names
}

// Only returns a dispatcher over the channels named, sharing d's timeout.
func (d *Dispatcher) Only(names ...string) *Dispatcher {
	if d == nil {
		return nil
	}
	out := &Dispatcher{timeout: d.timeout}
	for _, c := range d.channels {
		if slices.Contains(names, c.Name()) {
			out.channels = append(out.channels, c)
		}
	}
	return out
}

// Dispatch sends msg through every channel and waits for all of them.
// Results are in channel registration order.
func (d *Dispatcher) Dispatch(ctx context.Context, to Recipient, msg Message) []Result {
	if d == nil || len(d.channels) == 0 {
		return nil
	}

	results := make([]Result, len(d.channels))
	var wg sync.WaitGroup
	for i, c := range d.channels {
		wg.Add(1)
		go func(i int, c Channel) {
			defer wg.Done()
			results[i] = Result{Channel: c.Name(), Err: d.send(ctx, c, to, msg)}
		}(i, c)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) send(ctx context.Context, c Channel, to Recipient, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", c.Name(), r)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return c.Send(ctx, to, msg)
}

// Delivered reports whether at least one channel succeeded.
func Delivered(results []Result) bool {
	for _, r := range results {
		if r.Err == nil {
			return true
		}
	}
	return false
}

// Failed returns the names of channels that reported an error.
func Failed(results []Result) []string {
	var out []string
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r.Channel)
		}
	}
	return out
}
