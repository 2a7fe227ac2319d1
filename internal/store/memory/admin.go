package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

func (s *Store) FindActiveCredential(_ context.Context, digest string) (core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.creds {
		if c.Active && c.KeyHash == digest {
			return *c, nil
		}
	}
	return core.Credential{}, core.ErrNotFound
}

func (s *Store) TouchCredential(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return fmt.Errorf("credential %d: %w", id, core.ErrNotFound)
	}
	at = at.UTC()
	c.LastUsed = &at
	return nil
}

func (s *Store) CreateCredential(_ context.Context, name, digest string, userID *int64) (core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.creds {
		if c.KeyHash == digest {
			return core.Credential{}, fmt.Errorf("credential %q: %w", name, core.ErrConflict)
		}
	}
	s.credID++
	c := &core.Credential{
		ID:        s.credID,
		Name:      name,
		KeyHash:   digest,
		UserID:    userID,
		Active:    true,
		CreatedAt: s.Now().UTC(),
	}
	s.creds[c.ID] = c
	return *c, nil
}

func (s *Store) ListCredentials(context.Context) ([]core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b core.Credential) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *Store) RevokeCredential(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return fmt.Errorf("credential %d: %w", id, core.ErrNotFound)
	}
	c.Active = false
	return nil
}

func (s *Store) ActiveSubscriptions(_ context.Context, event string) ([]core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Subscription
	for _, sub := range s.subs {
		if sub.Active && sub.Wants(event) {
			out = append(out, cloneSubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b core.Subscription) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *Store) RecordDelivery(_ context.Context, id int64, outcome core.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("subscription %d: %w", id, core.ErrNotFound)
	}
	at := outcome.At.UTC()
	sub.LastTriggered = &at
	sub.LastStatus = nil
	if outcome.Status != 0 {
		status := outcome.Status
		sub.LastStatus = &status
	}
	sub.LastError = outcome.Error
	return nil
}

func (s *Store) CreateSubscription(_ context.Context, sub core.Subscription) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subID++
	sub.ID = s.subID
	stored := cloneSubscription(&sub)
	s.subs[sub.ID] = &stored
	return cloneSubscription(&stored), nil
}

func (s *Store) ListSubscriptions(context.Context) ([]core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, cloneSubscription(sub))
	}
	slices.SortFunc(out, func(a, b core.Subscription) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *Store) GetSubscription(_ context.Context, id int64) (core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return core.Subscription{}, fmt.Errorf("subscription %d: %w", id, core.ErrNotFound)
	}
	return cloneSubscription(sub), nil
}

func cloneSubscription(sub *core.Subscription) core.Subscription {
	c := *sub
	c.Events = slices.Clone(sub.Events)
	return c
}

var (
	_ core.Store = (*Store)(nil)
	_ core.Admin = (*Store)(nil)
)
