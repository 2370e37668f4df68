package diamond

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/dispatch/internal/vm"
)

// Client drives a deployed proxy through the engine.
type Client struct {
	*vm.BoundContract
}

// NewClient binds the proxy at address.
func NewClient(e *vm.Engine, address common.Address) *Client {
	return &Client{BoundContract: vm.Bind(e, address, ABI)}
}

// Deploy creates a proxy owned by owner (the deployer when zero).
func Deploy(ctx context.Context, e *vm.Engine, from, owner common.Address) (*Client, *vm.Receipt, error) {
	var args []byte
	if owner != (common.Address{}) {
		var err error
		args, err = ABI.Pack("", owner)
		if err != nil {
			return nil, nil, fmt.Errorf("pack constructor: %w", err)
		}
	}
	r, err := e.Deploy(ctx, from, Kind, args, nil)
	if err != nil {
		return nil, r, err
	}
	return NewClient(e, r.Created), r, nil
}

// Cut submits a diamondCut.
func (c *Client) Cut(ctx context.Context, from common.Address, cuts []FacetCut, init common.Address, initData []byte) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "diamondCut", cuts, init, initData)
}

// FacetAddress resolves a selector.
func (c *Client) FacetAddress(ctx context.Context, sel vm.Selector) (common.Address, error) {
	out, err := c.Call(ctx, common.Address{}, "facetAddress", [4]byte(sel))
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// FacetAddresses lists installed modules.
func (c *Client) FacetAddresses(ctx context.Context) ([]common.Address, error) {
	out, err := c.Call(ctx, common.Address{}, "facetAddresses")
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

// FacetFunctionSelectors lists the selectors routed to module.
func (c *Client) FacetFunctionSelectors(ctx context.Context, module common.Address) ([]vm.Selector, error) {
	out, err := c.Call(ctx, common.Address{}, "facetFunctionSelectors", module)
	if err != nil {
		return nil, err
	}
	raw := out[0].([][4]byte)
	sels := make([]vm.Selector, len(raw))
	for i, s := range raw {
		sels[i] = s
	}
	return sels, nil
}

// Owner returns the proxy owner.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	out, err := c.Call(ctx, common.Address{}, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// TransferOwnership hands the proxy to next.
func (c *Client) TransferOwnership(ctx context.Context, from, next common.Address) (*vm.Receipt, error) {
	return c.Transact(ctx, from, nil, "transferOwnership", next)
}
