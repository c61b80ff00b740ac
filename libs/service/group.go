package service

import (
	"context"
	"fmt"

	"github.com/orvnode/orv/libs/log"
)

// Group starts its members in order and stops them in reverse order.
type Group struct {
	BaseService
	logger   log.Logger
	services []Service
	running  []Service
}

func NewGroup(logger log.Logger, name string, services ...Service) *Group {
	g := &Group{
		logger:   logger,
		services: services,
	}
	g.BaseService = *NewBaseService(logger, name, g)
	return g
}

func (g *Group) OnStart(ctx context.Context) error {
	for _, srv := range g.services {
		if err := srv.Start(ctx); err != nil {
			g.stopStarted()
			return fmt.Errorf("starting %s: %w", srv, err)
		}
		g.running = append(g.running, srv)
	}
	return nil
}

func (g *Group) OnStop() {
	g.stopStarted()
}

func (g *Group) stopStarted() {
	for i := len(g.running) - 1; i >= 0; i-- {
		srv := g.running[i]
		if !srv.IsRunning() {
			continue
		}
		if err := srv.Stop(); err != nil {
			g.logger.Error("failed to stop service", "service", srv.String(), "err", err)
		}
	}
	g.running = nil
}
