package guard

import (
	"errors"

	"github.com/rs/zerolog"

	"medportal/internal/models"
	"medportal/internal/security"
)

type Outcome int

const (
	// Pending means validation has not resolved yet; nothing may be rendered.
	Pending Outcome = iota
	Proceed
	RedirectLogin
	RedirectRoleHome
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Proceed:
		return "proceed"
	case RedirectLogin:
		return "redirect_login"
	case RedirectRoleHome:
		return "redirect_role_home"
	}
	return "unknown"
}

// Decision is the guard's verdict for one protected request. Location is set
// for both redirect outcomes and is never the requested resource.
type Decision struct {
	Outcome  Outcome
	Identity security.Identity
	Location string
}

// Validator is satisfied by *security.TokenManager.
type Validator interface {
	Validate(token string) (security.Identity, error)
}

// Landing maps each role to its default landing resource. A role without an
// entry is sent to the login page when it lands somewhere it may not go.
type Landing map[models.Role]string

func (l Landing) Home(role models.Role) (string, bool) {
	loc, ok := l[role]
	return loc, ok && loc != ""
}

type Policy struct {
	LoginPath string
	Landing   Landing
}

type Guard struct {
	validator Validator
	policy    Policy
	log       zerolog.Logger
}

func New(validator Validator, policy Policy, log zerolog.Logger) *Guard {
	if policy.LoginPath == "" {
		policy.LoginPath = "/login"
	}
	return &Guard{
		validator: validator,
		policy:    policy,
		log:       log,
	}
}

func (g *Guard) Policy() Policy {
	return g.policy
}

// Check validates token and decides access for a resource open to allowed.
// An empty allowed set admits any authenticated role.
func (g *Guard) Check(token string, allowed ...models.Role) Decision {
	return g.Decide(g.Resolve(token), allowed...)
}

// Resolve turns a presented token into a settled session state. Validation
// failures never escape as errors; they collapse to Unauthenticated.
func (g *Guard) Resolve(token string) State {
	if token == "" {
		return State{Status: Unauthenticated}
	}

	identity, err := g.validator.Validate(token)
	if err != nil {
		g.log.Debug().Str("reason", rejectionKind(err)).Msg("session token rejected")
		return State{Status: Unauthenticated, Reason: err}
	}
	return State{Status: Authenticated, Identity: identity}
}

func (g *Guard) Decide(state State, allowed ...models.Role) Decision {
	switch state.Status {
	case Loading:
		return Decision{Outcome: Pending}
	case Authenticated:
	default:
		return Decision{Outcome: RedirectLogin, Location: g.policy.LoginPath}
	}

	if permitted(state.Identity.Role, allowed) {
		return Decision{Outcome: Proceed, Identity: state.Identity}
	}

	g.log.Debug().
		Str("subject", state.Identity.Subject).
		Str("role", string(state.Identity.Role)).
		Msg("role not permitted")
	home, ok := g.policy.Landing.Home(state.Identity.Role)
	if !ok {
		return Decision{Outcome: RedirectLogin, Location: g.policy.LoginPath}
	}
	return Decision{Outcome: RedirectRoleHome, Identity: state.Identity, Location: home}
}

func permitted(role models.Role, allowed []models.Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func rejectionKind(err error) string {
	switch {
	case errors.Is(err, security.ErrExpiredToken):
		return "expired"
	case errors.Is(err, security.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, security.ErrMalformedToken):
		return "malformed"
	}
	return "other"
}
