// Package nav decides, from the session status alone, whether a route may
// render. It never navigates itself; the shell executes the decision.
package nav

import (
	"strings"

	"storefront/services/shop/internal/session"
)

const (
	Root     = "/"
	Login    = "/login"
	Register = "/register"
	Products = "/products"
	Orders   = "/orders"
	NewOrder = "/orders/new"
	fallback = Products
)

type Action int

const (
	Render Action = iota
	Loading
	Redirect
)

func (a Action) String() string {
	switch a {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	default:
		return "render"
	}
}

// Decision is the outcome of Guard. To is set only for Redirect.
type Decision struct {
	Action Action
	To     string
}

var protected = map[string]bool{
	Products: true,
	Orders:   true,
	NewOrder: true,
}

var guestOnly = map[string]bool{
	Login:    true,
	Register: true,
}

// Clean normalizes a route: leading slash, no trailing slash, lower case.
func Clean(route string) string {
	route = strings.ToLower(strings.TrimSpace(route))
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = Root
		}
	}
	return route
}

// Known reports whether route is a page the shell can show.
func Known(route string) bool {
	route = Clean(route)
	return route == Root || protected[route] || guestOnly[route]
}

// Guard decides what to do when route is requested under status.
func Guard(status session.Status, route string) Decision {
	route = Clean(route)
	switch {
	case route == Root:
		switch status {
		case session.Authenticated:
			return Decision{Action: Redirect, To: fallback}
		case session.Anonymous:
			return Decision{Action: Redirect, To: Login}
		default:
			return Decision{Action: Loading}
		}
	case protected[route]:
		switch status {
		case session.Authenticated:
			return Decision{Action: Render}
		case session.Anonymous:
			return Decision{Action: Redirect, To: Login}
		default:
			return Decision{Action: Loading}
		}
	case guestOnly[route]:
		if status == session.Authenticated {
			return Decision{Action: Redirect, To: fallback}
		}
		// Guest pages render while the session is still being checked.
		return Decision{Action: Render}
	default:
		return Decision{Action: Redirect, To: Root}
	}
}

// Resolve follows redirects from route until a page renders or is loading.
// It returns the final route and decision.
func Resolve(status session.Status, route string) (string, Decision) {
	route = Clean(route)
	for i := 0; i < 4; i++ {
		d := Guard(status, route)
		if d.Action != Redirect {
			return route, d
		}
		route = d.To
	}
	return route, Guard(status, route)
}
