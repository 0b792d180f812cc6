package guard

import (
	"net/http"
	"net/url"

	"github.com/velicb/supplydesk/internal/session"
	"github.com/velicb/supplydesk/internal/telemetry/tracing"
	"github.com/velicb/supplydesk/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const (
	LoginPath       = "/login"
	FacultyHomePath = "/faculty/dashboard"
)

type Action int

const (
	Allow Action = iota
	ShowLoading
	RedirectLogin
	RedirectHome
)

// Decision is the outcome of one route check.
type Decision struct {
	Action Action
	// Location is the redirect target, set for the redirect actions
	Location string
}

// Decide evaluates the route access rules, first match wins: still
// bootstrapping -> neutral placeholder; not logged in -> to login,
// remembering where the caller wanted to go; faculty on an admin route
// -> to the faculty home; otherwise the route is served.
func Decide(state session.State, requireAdmin bool, attemptedPath string) Decision {
	if state.Loading {
		return Decision{Action: ShowLoading}
	}

	if !state.Authenticated {
		loginURL := LoginPath + "?from=" + url.QueryEscape(attemptedPath)
		if state.Expired {
			loginURL += "&expired=true"
		}
		return Decision{Action: RedirectLogin, Location: loginURL}
	}

	if requireAdmin && !state.Admin {
		return Decision{Action: RedirectHome, Location: FacultyHomePath}
	}

	return Decision{Action: Allow}
}

// SessionStater exposes the controller's current session state.
type SessionStater interface {
	Snapshot() session.State
}

type Guard struct {
	session SessionStater
	// OnDenied is invoked for every denied navigation, with the
	// attempted path and the denial reason
	OnDenied func(path, reason string)
}

func New(session SessionStater) *Guard {
	return &Guard{
		session: session,
	}
}

// Protect gates a (sub)router on the session state, per request.
func (g *Guard) Protect(requireAdmin bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "guard.protect")
			defer span.End()

			decision := Decide(g.session.Snapshot(), requireAdmin, r.URL.Path)
			switch decision.Action {
			case ShowLoading:
				w.Header().Set("Retry-After", "1")
				pkg.WriteResponse(w, pkg.ContentType.Text, "loading", http.StatusServiceUnavailable)
				span.SetStatus(codes.Ok, "loading")
			case RedirectLogin:
				log.Tracef("[not authenticated] [guard] => %s", r.URL.Path)
				g.denied(r.URL.Path, "unauthenticated")
				span.SetStatus(codes.Error, "not-authenticated")
				http.Redirect(w, r, decision.Location, http.StatusFound)
			case RedirectHome:
				log.Tracef("[admin required] [guard] => %s", r.URL.Path)
				g.denied(r.URL.Path, "admin required")
				span.SetStatus(codes.Error, "admin-required")
				http.Redirect(w, r, decision.Location, http.StatusFound)
			default:
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

func (g *Guard) denied(path, reason string) {
	if g.OnDenied != nil {
		g.OnDenied(path, reason)
	}
}
