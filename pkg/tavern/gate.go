// Copyright 2024-2026 Aiku AI

package tavern

import (
	"context"
	"slices"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Provisioner creates whatever backing storage a conversation needs before
// its first message is written. owner is the local user name, or "" when the
// session has not identified yet.
type Provisioner interface {
	Provision(ctx context.Context, character, file, owner string) error
}

// NopProvisioner provisions nothing. It is used with a RemoteStore, where the
// synchronizer creates the header on the first save.
type NopProvisioner struct{}

func (NopProvisioner) Provision(context.Context, string, string, string) error { return nil }

// Gate remembers which characters have been provisioned during this run and
// makes provisioning happen at most once per character. The set lives for
// the process lifetime and is never persisted.
type Gate struct {
	provisioner Provisioner
	owner       *Owner
	ensured     *exsync.Set[string]
	log         zerolog.Logger
}

// NewGate creates a Gate in front of provisioner.
func NewGate(provisioner Provisioner, owner *Owner, log zerolog.Logger) *Gate {
	return &Gate{
		provisioner: provisioner,
		owner:       owner,
		ensured:     exsync.NewSet[string](),
		log:         log.With().Str("component", "provisioning").Logger(),
	}
}

// Ensure provisions character once. A failed attempt is logged and not
// remembered, so the next message for the same character tries again.
func (g *Gate) Ensure(ctx context.Context, character, file string) error {
	if g.ensured.Has(character) {
		return nil
	}
	if err := g.provisioner.Provision(ctx, character, file, g.owner.Name()); err != nil {
		g.log.Error().Err(err).
			Str("character", character).
			Str("file_name", file).
			Msg("Failed to provision conversation storage")
		return err
	}
	g.ensured.Add(character)
	g.log.Debug().
		Str("character", character).
		Str("file_name", file).
		Msg("Provisioned conversation storage")
	return nil
}

// Has reports whether character was provisioned during this run.
func (g *Gate) Has(character string) bool {
	return g.ensured.Has(character)
}

// Ensured returns the provisioned characters in sorted order.
func (g *Gate) Ensured() []string {
	names := g.ensured.AsList()
	slices.Sort(names)
	return names
}
