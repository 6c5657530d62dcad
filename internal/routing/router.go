// Package routing decides which speech endpoint receives each job and builds
// the transcription request sent to it.
//
// A deployment uses exactly one policy:
//
//	primary/fallback  first attempts go to the primary endpoint, retried
//	                  files go to the fallback (or the primary if none)
//	weighted          each job draws an endpoint by percentage weight
package routing

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/speech-ingestion/internal/config"
	"github.com/fpang/speech-ingestion/internal/intake"
)

// Role is an endpoint's place in the routing policy.
type Role string

const (
	RolePrimary  Role = config.RolePrimary
	RoleFallback Role = config.RoleFallback
	RoleWeighted Role = config.RoleWeighted
)

// Endpoint is one provider region with its credentials.
type Endpoint struct {
	Name    string
	Key     string
	Region  string
	ModelID string
	Weight  int
	Role    Role
}

// Source is a random integer source; *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Assignment is a group of notifications bound for one endpoint.
type Assignment struct {
	Name          string
	Endpoint      Endpoint
	Notifications []intake.Notification
}

// Router selects endpoints.
type Router struct {
	weighted bool
	primary  Endpoint
	fallback *Endpoint
	pool     []Endpoint

	mu  sync.Mutex
	rnd Source
}

// NewPrimaryFallback creates a router for the primary/fallback policy.
// fallback may be nil.
func NewPrimaryFallback(primary Endpoint, fallback *Endpoint) *Router {
	return &Router{primary: primary, fallback: fallback}
}

// NewWeighted creates a router for the weighted policy. The first endpoint
// also receives every draw that falls outside the configured weights.
func NewWeighted(endpoints []Endpoint, rnd Source) (*Router, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("weighted routing needs at least one endpoint")
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Router{weighted: true, pool: endpoints, rnd: rnd}, nil
}

// FromConfig creates the router described by a validated config.
func FromConfig(cfg *config.Config, rnd Source) (*Router, error) {
	if cfg.RoutingPolicy() == config.RoleWeighted {
		eps := make([]Endpoint, 0, len(cfg.Endpoints))
		for _, ep := range cfg.Endpoints {
			eps = append(eps, fromConfig(ep))
		}
		return NewWeighted(eps, rnd)
	}

	var primary *Endpoint
	var fallback *Endpoint
	for _, ep := range cfg.Endpoints {
		e := fromConfig(ep)
		switch e.Role {
		case RolePrimary:
			primary = &e
		case RoleFallback:
			fallback = &e
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("no primary endpoint configured")
	}
	return NewPrimaryFallback(*primary, fallback), nil
}

func fromConfig(ep config.Endpoint) Endpoint {
	return Endpoint{
		Name:    ep.Name,
		Key:     ep.Key,
		Region:  ep.Region,
		ModelID: ep.ModelID,
		Weight:  ep.Weight,
		Role:    Role(ep.Role),
	}
}

// Weighted reports whether the router uses the weighted policy.
func (r *Router) Weighted() bool { return r.weighted }

// Endpoints lists the configured endpoints.
func (r *Router) Endpoints() []Endpoint {
	if r.weighted {
		return append([]Endpoint(nil), r.pool...)
	}
	out := []Endpoint{r.primary}
	if r.fallback != nil {
		out = append(out, *r.fallback)
	}
	return out
}

// Route selects the endpoint for a notification with the given retry count.
func (r *Router) Route(retryCount int) Endpoint {
	if r.weighted {
		return r.draw()
	}
	if retryCount > 0 && r.fallback != nil {
		return *r.fallback
	}
	return r.primary
}

// draw picks a weighted endpoint: a uniform integer in [0,100) selects the
// first endpoint whose cumulative weight exceeds it.
func (r *Router) draw() Endpoint {
	r.mu.Lock()
	n := r.rnd.Intn(100)
	r.mu.Unlock()

	cumulative := 0
	for _, ep := range r.pool {
		cumulative += ep.Weight
		if cumulative > n {
			return ep
		}
	}
	return r.pool[0]
}

// Partition splits a job into per-endpoint assignments.
//
// Under the weighted policy the whole job goes to one drawn endpoint. Under
// primary/fallback, first attempts and retried files become separate
// assignments; the retried group is named "<job>_retry". Without a fallback
// endpoint both groups go to the primary as one assignment.
func (r *Router) Partition(name string, ns []intake.Notification) []Assignment {
	if len(ns) == 0 {
		return nil
	}
	if r.weighted {
		a := Assignment{Name: name, Endpoint: r.draw(), Notifications: ns}
		logAssignment(a)
		return []Assignment{a}
	}
	if r.fallback == nil {
		a := Assignment{Name: name, Endpoint: r.primary, Notifications: ns}
		logAssignment(a)
		return []Assignment{a}
	}

	var initial, retried []intake.Notification
	for _, n := range ns {
		if n.RetryCount == 0 {
			initial = append(initial, n)
		} else {
			retried = append(retried, n)
		}
	}

	var out []Assignment
	if len(initial) > 0 {
		out = append(out, Assignment{Name: name, Endpoint: r.primary, Notifications: initial})
	}
	if len(retried) > 0 {
		out = append(out, Assignment{Name: name + "_retry", Endpoint: *r.fallback, Notifications: retried})
	}
	for _, a := range out {
		logAssignment(a)
	}
	return out
}

func logAssignment(a Assignment) {
	log.Info().
		Str("job", a.Name).
		Str("endpoint", a.Endpoint.Name).
		Str("region", a.Endpoint.Region).
		Int("files", len(a.Notifications)).
		Msg("Job routed")
	for _, n := range a.Notifications {
		log.Debug().Str("job", a.Name).Str("endpoint", a.Endpoint.Name).Str("source", n.SourceURL).
			Int("retryCount", n.RetryCount).Msg("File routed")
	}
}
