package orchestrator

import (
	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/notify"
	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/resolver"
	"github.com/hazuki-lab/utawakun/internal/streamer"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Orchestrator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store := do.MustInvoke[assets.Store](i)
		set := do.MustInvoke[resolver.Set](i)
		qm := do.MustInvoke[*queue.Manager](i)
		backend := do.MustInvoke[*streamer.Streamer](i)
		notifier := do.MustInvoke[notify.Sender](i)
		return New(cfg, store, set, qm, backend, notifier), nil
	})
}
