package notify

import (
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/notify"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (notify.Sender, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPSender(c.PlaybackWebhookURL), nil
	})
}
