package assets

import (
	"github.com/hazuki-lab/utawakun/internal/assets"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (assets.Store, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewDiskStore(c.AssetDir)
	})
}
