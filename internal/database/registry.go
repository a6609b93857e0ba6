package database

import (
	"context"
	"fmt"

	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// ReloadRegistry reads every identity from the registered source and swaps a fresh
// registry snapshot into p. On a read error the current snapshot is kept.
func ReloadRegistry(ctx context.Context, p *pipeline.Pipeline) (facematch.BuildReport, error) {
	reader, err := GetIdentityReader(ctx)
	if err != nil {
		return facematch.BuildReport{}, err
	}
	return p.Reload(ctx, func(ctx context.Context) ([]facematch.Identity, error) {
		identities, err := reader.ListIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing identities: %w", err)
		}
		return identities, nil
	})
}
