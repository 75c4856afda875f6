package calls

import (
	"github.com/samber/do/v2"

	"github.com/hazuki-lab/utawakun/internal/calls"
	"github.com/hazuki-lab/utawakun/internal/resolver"
	"github.com/hazuki-lab/utawakun/internal/setup"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*GotdClient, error) {
		return NewGotdClient(), nil
	})
	do.Provide(injector, func(i do.Injector) (calls.Client, error) {
		return do.MustInvoke[*GotdClient](i), nil
	})
	do.Provide(injector, func(i do.Injector) (resolver.MediaFetcher, error) {
		return do.MustInvoke[*GotdClient](i), nil
	})
	do.Provide(injector, func(i do.Injector) (setup.AuthorizerFactory, error) {
		return NewAuthorizer, nil
	})
}
