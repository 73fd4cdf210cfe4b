// Package server runs the agent's long lived components side by side.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aefi-io/aefi/pkg/log"
)

// Server is anything the manager runs until its context ends.
type Server interface {
	Start(ctx context.Context) error
}

// Manager starts every registered Server and stops all of them as soon as
// one fails.
type Manager struct {
	servers []Server
	names   []string
}

func NewManager() *Manager {
	return &Manager{}
}

// Add registers srv under name, for logging.
func (m *Manager) Add(name string, srv Server) {
	m.servers = append(m.servers, srv)
	m.names = append(m.names, name)
}

// Start launches all servers in parallel and waits for termination.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i, srv := range m.servers {
		name := m.names[i]
		g.Go(func() error {
			err := srv.Start(ctx)
			if err != nil {
				log.Error(err, "Server exited with error", "server", name)
			} else {
				log.Debug("Server exited", "server", name)
			}
			return err
		})
	}

	log.Info("All servers starting...", "servers", m.names)
	return g.Wait()
}
