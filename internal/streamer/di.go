package streamer

import (
	"github.com/samber/do/v2"

	"github.com/hazuki-lab/utawakun/internal/calls"
	"github.com/hazuki-lab/utawakun/internal/config"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Streamer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[calls.Client](i)
		return New(client, cfg.BackendCallTimeout()), nil
	})
}
