// Package planner turns natural-language build requirements into an
// ordered command list with a price quote.
package planner

import (
	"context"
	"errors"

	"github.com/vyvo/worldsmith/pkg/command"
	"github.com/vyvo/worldsmith/pkg/plan"
)

// ErrEmptyPlan is returned when the model answers without any commands.
var ErrEmptyPlan = errors.New("planner returned no commands")

// Request carries everything the planner needs for one design.
type Request struct {
	Requester    string
	Origin       command.Point3
	Extent       int
	Requirements string
}

// Planner generates a blueprint for a request. Ping is a cheap
// connectivity check used by health endpoints.
type Planner interface {
	Generate(ctx context.Context, req Request) (plan.Blueprint, error)
	Ping(ctx context.Context) error
}
