package subscription

import (
	"errors"
	"fmt"
	"sync"

	"market-streamer/src/connection"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
)

// -----------------------------------------------------------------------------

// Options configures a Controller
type Options struct {
	Name string

	// SendUnsubscribe additionally sends an explicit unsubscribe for keys
	// dropped from the desired set. Servers that treat subscribe as a full
	// replace do not need it.
	SendUnsubscribe bool
}

// -----------------------------------------------------------------------------

// Controller owns the desired subscription set. The desired set is
// authoritative: server confirmations are recorded but never gate it.
type Controller struct {
	name            string
	sendUnsubscribe bool
	sender          interfaces.ISender
	protocol        interfaces.IProtocol
	store           interfaces.ISeriesRemover
	logger          *logger.Logger

	mu        sync.Mutex
	desired   []string
	lastSent  []string
	confirmed []string
}

// -----------------------------------------------------------------------------

// NewController creates a controller with an empty desired set
func NewController(opts Options, sender interfaces.ISender, protocol interfaces.IProtocol, store interfaces.ISeriesRemover, logger *logger.Logger) *Controller {
	return &Controller{
		name:            opts.Name,
		sendUnsubscribe: opts.SendUnsubscribe,
		sender:          sender,
		protocol:        protocol,
		store:           store,
		logger:          logger,
	}
}

// -----------------------------------------------------------------------------

// SetDesired replaces the desired set. Series of keys that leave the set
// are removed from the store. When connected, one subscribe message with
// the full new set is sent (nothing is sent for an empty set).
func (c *Controller) SetDesired(keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDesiredLocked(keys)
}

// -----------------------------------------------------------------------------

// Add appends key to the desired set
func (c *Controller) Add(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDesiredLocked(append(append([]string(nil), c.desired...), key))
}

// -----------------------------------------------------------------------------

// Remove drops key from the desired set and deletes its series
func (c *Controller) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]string, 0, len(c.desired))
	for _, k := range c.desired {
		if k != key {
			next = append(next, k)
		}
	}
	return c.setDesiredLocked(next)
}

// -----------------------------------------------------------------------------

func (c *Controller) setDesiredLocked(keys []string) error {
	next := dedupe(keys)
	removed := difference(c.desired, next)
	c.desired = next

	for _, key := range removed {
		c.store.Remove(key)
	}

	added, dropped := difference(next, c.lastSent), difference(c.lastSent, next)
	if len(added) > 0 || len(dropped) > 0 {
		c.logger.Info("%s : desired subscriptions %v (added %v, removed %v)", c.name, next, added, dropped)
	}

	if !c.sender.IsConnected() {
		c.logger.Debug("%s : not connected, subscription will be sent on open", c.name)
		return nil
	}

	if c.sendUnsubscribe && len(dropped) > 0 {
		if err := c.sendLocked(models.ActionUnsubscribe, dropped); err != nil {
			return err
		}
	}
	if len(next) == 0 {
		c.lastSent = nil
		return nil
	}
	return c.sendLocked(models.ActionSubscribe, next)
}

// -----------------------------------------------------------------------------

// Desired returns a copy of the desired set in insertion order
func (c *Controller) Desired() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.desired...)
}

// -----------------------------------------------------------------------------

// WhileDesired runs fn only if key is in the desired set, holding the set
// fixed until fn returns. Remove deletes the series under the same lock, so
// a write done in fn can never outlive the key's removal.
func (c *Controller) WhileDesired(key string, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.desired {
		if k == key {
			fn()
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// Confirmed returns the keys named by the last server confirmation
func (c *Controller) Confirmed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.confirmed...)
}

// -----------------------------------------------------------------------------

// OnOpen re-asserts the desired set on a fresh connection. Server-side
// subscriptions do not survive a reconnect.
func (c *Controller) OnOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSent = nil
	c.confirmed = nil
	if len(c.desired) == 0 {
		return
	}
	if err := c.sendLocked(models.ActionSubscribe, c.desired); err != nil {
		c.logger.Warning("%s : failed to re-assert subscriptions: %v", c.name, err)
	}
}

// -----------------------------------------------------------------------------

// OnControl records informational server messages
func (c *Controller) OnControl(msg *models.MControlMessage) {
	if msg == nil {
		return
	}
	c.logger.Info("%s : server %s %v", c.name, msg.Type, msg.Securities)

	if msg.Type == "subscription_confirmed" {
		c.mu.Lock()
		c.confirmed = append([]string(nil), msg.Securities...)
		c.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------

func (c *Controller) sendLocked(action models.MSubscriptionAction, keys []string) error {
	var (
		payload []byte
		err     error
	)
	if action == models.ActionUnsubscribe {
		payload, err = c.protocol.EncodeUnsubscribe(keys)
	} else {
		payload, err = c.protocol.EncodeSubscribe(keys)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", action, err)
	}

	if err := c.sender.Send(payload); err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			// lost the race with a close; OnOpen will re-send
			c.logger.Warning("%s : %s not sent, connection closed", c.name, action)
			return nil
		}
		return fmt.Errorf("failed to send %s: %w", action, err)
	}

	if action == models.ActionSubscribe {
		c.lastSent = append([]string(nil), keys...)
	}
	c.logger.Debug("%s : sent %s %v", c.name, action, keys)
	return nil
}

// -----------------------------------------------------------------------------

// dedupe drops empty and repeated keys, keeping first occurrence order
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// -----------------------------------------------------------------------------

// difference returns the keys of a that are not in b
func difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, k := range b {
		in[k] = struct{}{}
	}
	var out []string
	for _, k := range a {
		if _, ok := in[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
