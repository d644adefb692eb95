package protocol

import (
	"context"
	"fmt"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// ensureBFD turns failure detection on for one interface. The switch
// rejects an add against an interface that already has a config, so the
// current state decides between add and modify, and an enabled interface
// is left alone.
func (c *Configurator) ensureBFD(ctx context.Context, sw, vr, nic string) error {
	var state fabric.BFDState
	err := c.call(ctx, sw, "vrouter-interface-config-show", func(ctx context.Context) error {
		var err error
		state, err = c.driver.InterfaceBFD(ctx, vr, nic)
		return err
	})
	if err != nil {
		return err
	}

	var (
		step string
		fn   func(context.Context) error
	)
	switch state {
	case fabric.BFDEnabled:
		c.rec.Unchanged(sw, fmt.Sprintf("bfd already enabled on %s", nic))
		return nil
	case fabric.BFDDisabled:
		step = "vrouter-interface-config-modify"
		fn = func(ctx context.Context) error { return c.driver.ModifyInterfaceBFD(ctx, vr, nic) }
	default:
		step = "vrouter-interface-config-add"
		fn = func(ctx context.Context) error { return c.driver.AddInterfaceBFD(ctx, vr, nic) }
	}

	if err := c.apply(ctx, sw, step, func(ctx context.Context) (bool, error) {
		state, err := c.driver.InterfaceBFD(ctx, vr, nic)
		return state == fabric.BFDEnabled, err
	}, fn); err != nil {
		return err
	}
	c.rec.Changed(sw, fmt.Sprintf("bfd enabled on %s", nic))
	return nil
}
