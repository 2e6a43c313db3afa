package ports

import (
	"context"

	"github.com/bnema/rexd/internal/domain"
)

// ContextProvider hands named sub-resources of the current session to a
// running fragment.
type ContextProvider interface {
	Acquire(name string, fresh bool) (BrowsingContext, error)
	Names() []string
}

type SandboxJob struct {
	Code       string
	Inputs     []domain.Batch
	Controller Controller
	Session    domain.SessionView
	Contexts   ContextProvider
}

type Sandbox interface {
	Run(ctx context.Context, job SandboxJob) (domain.Result, error)
}
