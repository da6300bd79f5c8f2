package routeguard

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const maxRedirects = 4

// Listener observes committed navigations.
type Listener func(from Route, to Route)

// Router tracks the current route and runs every navigation through the
// guard. It satisfies the session's navigator contract.
type Router struct {
	guard  *Guard
	logger *zap.Logger

	mutex     sync.Mutex
	current   Route
	listeners []Listener
}

// NewRouter builds a router over the guard's route table.
func NewRouter(guard *Guard, logger *zap.Logger) (*Router, error) {
	if guard == nil {
		return nil, ErrMissingGuard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{guard: guard, logger: logger}, nil
}

// OnNavigate registers a listener called after each committed navigation.
func (router *Router) OnNavigate(listener Listener) {
	router.mutex.Lock()
	defer router.mutex.Unlock()
	router.listeners = append(router.listeners, listener)
}

// Current returns the last committed route.
func (router *Router) Current() Route {
	router.mutex.Lock()
	defer router.mutex.Unlock()
	return router.current
}

// Navigate resolves name through the guard, following redirects, and commits
// the final route.
func (router *Router) Navigate(ctx context.Context, name string) error {
	target, ok := router.guard.Route(name)
	if !ok {
		return fmt.Errorf("routeguard.navigate: %w: %s", ErrUnknownRoute, name)
	}
	requested := target
	for hops := 0; ; hops++ {
		decision := router.guard.Resolve(ctx, target)
		if decision.Allow {
			break
		}
		if hops >= maxRedirects {
			router.logger.Error("navigation redirect loop",
				zap.String("code", ErrTooManyRedirect.Error()),
				zap.String("requested", requested.Name))
			return fmt.Errorf("routeguard.navigate %s: %w", requested.Name, ErrTooManyRedirect)
		}
		redirect, found := router.guard.Route(decision.Redirect)
		if !found {
			return fmt.Errorf("routeguard.navigate: %w: %s", ErrUnknownRoute, decision.Redirect)
		}
		router.logger.Debug("navigation redirected",
			zap.String("from", target.Name),
			zap.String("to", redirect.Name))
		target = redirect
	}

	router.mutex.Lock()
	previous := router.current
	router.current = target
	listeners := append([]Listener(nil), router.listeners...)
	router.mutex.Unlock()

	router.logger.Info("navigated",
		zap.String("from", previous.Name),
		zap.String("to", target.Name),
		zap.String("requested", requested.Name))
	for _, listener := range listeners {
		listener(previous, target)
	}
	return nil
}
