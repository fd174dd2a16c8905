package wgeasy

import (
	"fmt"
	"time"

	"github.com/BatmanBruc/wgshop-bot/types"
)

// Registry holds one Client per configured server.
type Registry struct {
	clients map[string]*Client
	servers []types.Server
}

var _ types.Provisioners = (*Registry)(nil)

func NewRegistry(servers []types.Server, password string, timeout time.Duration, opts ...Option) (*Registry, error) {
	r := &Registry{
		clients: make(map[string]*Client, len(servers)),
		servers: append([]types.Server(nil), servers...),
	}
	for _, s := range servers {
		c, err := New(s, password, timeout, opts...)
		if err != nil {
			return nil, err
		}
		if _, dup := r.clients[s.ID]; dup {
			return nil, fmt.Errorf("wgeasy: duplicate server %s", s.ID)
		}
		r.clients[s.ID] = c
	}
	return r, nil
}

func (r *Registry) For(server string) (types.Provisioner, bool) {
	c, ok := r.clients[server]
	if !ok {
		return nil, false
	}
	return c, true
}

func (r *Registry) Servers() []types.Server {
	return append([]types.Server(nil), r.servers...)
}
