package resolver

import (
	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/capability"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/resolver"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (resolver.Set, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store := do.MustInvoke[assets.Store](i)
		tools := do.MustInvoke[capability.Tools](i)
		fetcher := do.MustInvoke[resolver.MediaFetcher](i)
		return resolver.Set{
			RemotePlatform: NewRemotePlatformResolver(cfg, store, tools),
			DirectURL:      NewDirectURLResolver(cfg, store),
			Attachment:     NewAttachmentResolver(cfg, store, fetcher),
		}, nil
	})
}
