package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/config"
	"github.com/HerbHall/camlink/internal/discovery"
	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/orchestrator"
	"github.com/HerbHall/camlink/internal/selector"
	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/internal/strategy"
	"github.com/HerbHall/camlink/internal/strategy/builtin"
)

// buildOrchestrator registers the enabled strategies and wraps them in an
// orchestrator. The returned set must be closed on exit.
func buildOrchestrator(s config.Settings, logger *zap.Logger, opts ...orchestrator.Option) (*orchestrator.Orchestrator, *builtin.Set, error) {
	order, err := selector.ParseOrder(s.Selector.Order)
	if err != nil {
		return nil, nil, err
	}
	fallback, err := orchestrator.ParseFallback(s.Orchestrator.Fallback)
	if err != nil {
		return nil, nil, err
	}

	set, err := builtin.Build(strategy.Deps{
		Logger:   logger,
		Timeouts: s.Timeouts.Table(),
	}, s.Strategies)
	if err != nil {
		return nil, nil, err
	}
	sel := selector.New(logger, order)
	if err := set.Register(sel); err != nil {
		set.Close()
		return nil, nil, fmt.Errorf("register strategies: %w", err)
	}

	orch := orchestrator.New(sel, logger, orchestrator.Options{
		Fallback:    fallback,
		MaxAttempts: s.Orchestrator.MaxAttempts,
	}, opts...)
	return orch, set, nil
}

// buildDiscovery assembles the enabled scanners. repo, when set, marks
// candidates that are already in the inventory. events may be nil.
func buildDiscovery(s config.DiscoverySettings, repo services.CameraRepository, events event.Publisher, logger *zap.Logger) *discovery.Service {
	scanners := []discovery.Scanner{discovery.NewMDNSScanner(s.MDNSServices, s.Timeout, logger)}
	if s.UPnP {
		scanners = append(scanners, discovery.NewUPnPScanner(s.Timeout, logger))
	}
	var identify discovery.Identifier
	if s.SNMP {
		identify = discovery.NewSNMPIdentifier(s.SNMPCommunity, s.SNMPPort, s.Timeout)
	}
	var known discovery.KnownFunc
	if repo != nil {
		known = knownInRepository(repo, logger)
	}
	return discovery.NewService(scanners, identify, known, events, discovery.Options{Interval: s.Interval}, logger)
}

// knownInRepository matches candidates against the stored cameras by IP
// and port.
func knownInRepository(repo services.CameraRepository, logger *zap.Logger) discovery.KnownFunc {
	return func(ctx context.Context, ip string, port int) bool {
		res, err := repo.List(ctx, services.CameraFilter{Search: ip}, services.ListOptions{Limit: services.MaxPageSize})
		if err != nil {
			logger.Warn("inventory lookup failed", zap.String("ip", ip), zap.Error(err))
			return false
		}
		for _, c := range res.Items {
			if c.IPAddress == ip && (port == 0 || c.Port == port) {
				return true
			}
		}
		return false
	}
}
