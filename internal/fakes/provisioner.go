package fakes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BatmanBruc/wgshop-bot/types"
)

var ErrFake = errors.New("fake failure")

// Provisioner is an in-memory wg-easy server. Calls counts every method by name.
type Provisioner struct {
	mu      sync.Mutex
	clients []types.WGClient
	nextID  int
	authed  bool
	calls   map[string]int

	AuthErr   error
	CreateErr error
	EnableErr error
	ConfigErr error
	// HideCreated makes CreateClient succeed without the client showing up in listings.
	HideCreated bool
	// CreateDelay widens race windows in concurrency tests.
	CreateDelay time.Duration
	// OnAuthenticate runs at the start of every Authenticate call.
	OnAuthenticate func()
}

var _ types.Provisioner = (*Provisioner)(nil)

func NewProvisioner() *Provisioner {
	return &Provisioner{calls: make(map[string]int)}
}

func (p *Provisioner) record(name string) {
	p.calls[name]++
}

func (p *Provisioner) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *Provisioner) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.calls {
		n += v
	}
	return n
}

// Seed adds an existing client without counting a call.
func (p *Provisioner) Seed(name string, enabled bool) types.WGClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.add(name, enabled)
}

func (p *Provisioner) Clients() []types.WGClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.WGClient(nil), p.clients...)
}

func (p *Provisioner) add(name string, enabled bool) types.WGClient {
	p.nextID++
	c := types.WGClient{
		ID:        "client-" + strconv.Itoa(p.nextID),
		Name:      name,
		Address:   fmt.Sprintf("10.8.0.%d", p.nextID+1),
		Enabled:   enabled,
		CreatedAt: time.Date(2026, 1, 1, 0, p.nextID, 0, 0, time.UTC),
	}
	p.clients = append(p.clients, c)
	return c
}

func (p *Provisioner) Authenticate(ctx context.Context) error {
	p.mu.Lock()
	hook := p.OnAuthenticate
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Authenticate")
	if err := ctx.Err(); err != nil {
		p.authed = false
		return err
	}
	if p.AuthErr != nil {
		p.authed = false
		return p.AuthErr
	}
	p.authed = true
	return nil
}

func (p *Provisioner) CreateClient(_ context.Context, name string) error {
	p.mu.Lock()
	p.record("CreateClient")
	delay := p.CreateDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authed {
		return errors.New("not authenticated")
	}
	if p.CreateErr != nil {
		return p.CreateErr
	}
	if !p.HideCreated {
		p.add(name, true)
	}
	return nil
}

func (p *Provisioner) EnableClient(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("EnableClient")
	if p.EnableErr != nil {
		return p.EnableErr
	}
	for i := range p.clients {
		if p.clients[i].ID == id {
			p.clients[i].Enabled = true
			return nil
		}
	}
	return fmt.Errorf("client %s: %w", id, ErrFake)
}

func (p *Provisioner) DisableClient(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("DisableClient")
	found := false
	for i := range p.clients {
		if p.clients[i].Name == name {
			p.clients[i].Enabled = false
			found = true
		}
	}
	if !found {
		return fmt.Errorf("client %s: %w", name, ErrFake)
	}
	return nil
}

func (p *Provisioner) RemoveClient(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("RemoveClient")
	kept := p.clients[:0]
	for _, c := range p.clients {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	p.clients = kept
	return nil
}

func (p *Provisioner) ListClients(context.Context) ([]types.WGClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ListClients")
	return append([]types.WGClient(nil), p.clients...), nil
}

func (p *Provisioner) FindClientByName(_ context.Context, name string) (*types.WGClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("FindClientByName")
	var found *types.WGClient
	for i := range p.clients {
		if p.clients[i].Name == name && (found == nil || p.clients[i].CreatedAt.After(found.CreatedAt)) {
			c := p.clients[i]
			found = &c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("client %s: %w", name, ErrFake)
	}
	return found, nil
}

func (p *Provisioner) Config(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Config")
	if p.ConfigErr != nil {
		return "", p.ConfigErr
	}
	return "[Interface]\n# " + id + "\n", nil
}

// Provisioners maps server ids to fake provisioners.
type Provisioners map[string]*Provisioner

func (ps Provisioners) For(server string) (types.Provisioner, bool) {
	p, ok := ps[server]
	if !ok {
		return nil, false
	}
	return p, true
}
