package setup

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/repository"
	"github.com/hazuki-lab/utawakun/internal/streamer"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.CredentialsRepository](i)
		factory := do.MustInvoke[AuthorizerFactory](i)
		backend := do.MustInvoke[*streamer.Streamer](i)
		onConfigured := func(ctx context.Context, creds repository.Credentials) {
			if err := backend.Initialize(ctx, creds); err != nil {
				slog.Error("backend initialization with fresh credentials failed", "error", err)
			}
		}
		return NewManager(repo, factory, cfg.SetupSessionTTL(), onConfigured), nil
	})
}
