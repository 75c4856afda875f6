package queue

import (
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		repo := do.MustInvoke[Repository](i)
		return NewManager(repo), nil
	})
}
