// Package valkey provides the valkey-backed workflow state sink.
package valkey

import (
	"fmt"

	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/valkeyotel"

	"github.com/biomerkin-io/resilience-workflow/internal/core/build"
)

func NewValkey(cfg Config) (valkey.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("valkey config: %w", err)
	}
	client, err := valkeyotel.NewClient(valkey.ClientOption{
		InitAddress: cfg.Addresses,
		Username:    cfg.Username,
		Password:    cfg.Password,
		ClientName:  build.ServiceName + ".state",
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return client, nil
}
