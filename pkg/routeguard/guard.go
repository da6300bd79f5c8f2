// Package routeguard decides whether a navigation may proceed based on the
// state of the auth session.
package routeguard

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route names known to the guard.
const (
	RouteLogin     = "Login"
	RouteRegister  = "Register"
	RouteHome      = "Home"
	RouteAuthError = "AuthError"
)

// Sentinel errors exposed by the guard and router.
var (
	ErrMissingChecker  = errors.New("routeguard.missing_checker")
	ErrMissingGuard    = errors.New("routeguard.missing_guard")
	ErrDuplicateRoute  = errors.New("routeguard.duplicate_route")
	ErrMissingRoute    = errors.New("routeguard.missing_route")
	ErrUnknownRoute    = errors.New("routeguard.unknown_route")
	ErrTooManyRedirect = errors.New("routeguard.too_many_redirects")
)

// Route is a named destination.
type Route struct {
	Name      string
	Path      string
	Protected bool
}

// DefaultRoutes returns the portal route table.
func DefaultRoutes() []Route {
	return []Route{
		{Name: RouteLogin, Path: "/login"},
		{Name: RouteRegister, Path: "/register"},
		{Name: RouteHome, Path: "/", Protected: true},
		{Name: RouteAuthError, Path: "/auth-error"},
	}
}

// SessionChecker is the view of the auth session the guard needs.
type SessionChecker interface {
	CheckAuth(ctx context.Context) bool
	IsAuthenticated() bool
}

// Decision is the outcome of resolving a navigation. Redirect names the route
// to go to instead when Allow is false.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard resolves navigations against the session.
type Guard struct {
	checker SessionChecker
	routes  map[string]Route
	ordered []Route
}

// NewGuard validates the route table. It must contain the login and home
// routes the guard redirects to.
func NewGuard(checker SessionChecker, routes []Route) (*Guard, error) {
	if checker == nil {
		return nil, ErrMissingChecker
	}
	table := make(map[string]Route, len(routes))
	for _, route := range routes {
		if _, exists := table[route.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Name)
		}
		table[route.Name] = route
	}
	for _, required := range []string{RouteLogin, RouteHome} {
		if _, ok := table[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRoute, required)
		}
	}
	return &Guard{checker: checker, routes: table, ordered: append([]Route(nil), routes...)}, nil
}

// Route looks up a route by name.
func (guard *Guard) Route(name string) (Route, bool) {
	route, ok := guard.routes[name]
	return route, ok
}

// Routes returns the table in declaration order.
func (guard *Guard) Routes() []Route {
	return append([]Route(nil), guard.ordered...)
}

// Resolve decides whether navigating to target may proceed.
func (guard *Guard) Resolve(ctx context.Context, target Route) Decision {
	if target.Protected {
		if !guard.checker.CheckAuth(ctx) {
			return Decision{Redirect: RouteLogin}
		}
		return Decision{Allow: true}
	}
	if (target.Name == RouteLogin || target.Name == RouteRegister) && guard.checker.IsAuthenticated() {
		return Decision{Redirect: RouteHome}
	}
	return Decision{Allow: true}
}

// GinMiddleware guards an HTTP page with a 302 to the redirect route.
func (guard *Guard) GinMiddleware(route Route) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		decision := guard.Resolve(contextGin.Request.Context(), route)
		if decision.Allow {
			contextGin.Next()
			return
		}
		redirect, ok := guard.routes[decision.Redirect]
		if !ok {
			contextGin.AbortWithStatus(http.StatusForbidden)
			return
		}
		contextGin.Redirect(http.StatusFound, redirect.Path)
		contextGin.Abort()
	}
}
