package application

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/rexd/internal/domain"
	"github.com/bnema/rexd/internal/ports"
)

var _ ports.ContextProvider = (*SessionContexts)(nil)

// SessionContexts hands out the named sub-resources of a leased session.
type SessionContexts struct {
	session     *Session
	controller  ports.Controller
	clock       ports.Clock
	defaultName string
}

func NewSessionContexts(lease *Lease, clock ports.Clock, defaultName string) *SessionContexts {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &SessionContexts{
		session:     lease.Session,
		controller:  lease.Controller,
		clock:       clock,
		defaultName: strings.TrimSpace(defaultName),
	}
}

// Acquire resolves name to a live context. An exact match wins, then the
// most recently created partial match, then a new context registered under
// name. fresh always creates, under a timestamp-suffixed name. Without a name
// the primary context is reused.
func (c *SessionContexts) Acquire(name string, fresh bool) (ports.BrowsingContext, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.defaultName
	}
	if name == "" {
		return c.acquirePrimary()
	}

	s := c.session
	now := c.clock.Now()

	s.book.Lock()
	defer s.book.Unlock()

	if !fresh {
		if bc, ok := s.namedContexts[name]; ok && !bc.IsClosed() {
			c.touchLocked(name)
			return bc, nil
		}

		var candidates []string
		for key, bc := range s.namedContexts {
			if strings.Contains(key, name) && !bc.IsClosed() {
				candidates = append(candidates, key)
			}
		}
		if len(candidates) > 0 {
			slices.SortFunc(candidates, func(a, b string) int {
				if cmp := s.contextMeta[b].CreatedAt.Compare(s.contextMeta[a].CreatedAt); cmp != 0 {
					return cmp
				}
				return strings.Compare(b, a)
			})
			c.touchLocked(candidates[0])
			return s.namedContexts[candidates[0]], nil
		}
	}

	key := name
	if fresh {
		key = uniqueKey(s.namedContexts, name, now.UnixMilli())
	}

	bc, err := c.controller.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create context %q: %w", key, err)
	}
	s.namedContexts[key] = bc
	s.contextMeta[key] = domain.ContextMetadata{CreatedAt: now, LastUsedAt: now}
	return bc, nil
}

func (c *SessionContexts) acquirePrimary() (ports.BrowsingContext, error) {
	if primary := c.session.primaryContext(); primary != nil && !primary.IsClosed() {
		return primary, nil
	}

	for _, bc := range c.controller.Contexts() {
		if !bc.IsClosed() {
			c.session.setPrimary(bc)
			return bc, nil
		}
	}

	bc, err := c.controller.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	c.session.setPrimary(bc)
	return bc, nil
}

func (c *SessionContexts) Names() []string {
	names := c.session.namedContextNames()
	slices.Sort(names)
	return names
}

func (c *SessionContexts) touchLocked(key string) {
	meta := c.session.contextMeta[key]
	meta.LastUsedAt = c.clock.Now()
	c.session.contextMeta[key] = meta
}

func uniqueKey(existing map[string]ports.BrowsingContext, name string, stamp int64) string {
	for {
		key := fmt.Sprintf("%s_%d", name, stamp)
		if _, taken := existing[key]; !taken {
			return key
		}
		stamp++
	}
}
