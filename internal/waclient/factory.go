package waclient

import (
	"fmt"
	"strings"
)

// FactoryConfig selects and configures the client implementation.
type FactoryConfig struct {
	Mode        string
	BridgeURL   string
	BridgeToken string
}

// NewFactory resolves the configured client mode. "auto" picks the bridge
// when a bridge URL is configured and falls back to the mock otherwise.
func NewFactory(cfg FactoryConfig) (Factory, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "bridge":
		f, err := NewBridgeFactory(BridgeConfig{URL: cfg.BridgeURL, Token: cfg.BridgeToken})
		if err != nil {
			return nil, "", err
		}
		return f, "bridge", nil
	case "mock":
		return NewMockFactory(), "mock", nil
	case "auto":
		if strings.TrimSpace(cfg.BridgeURL) != "" {
			f, err := NewBridgeFactory(BridgeConfig{URL: cfg.BridgeURL, Token: cfg.BridgeToken})
			if err != nil {
				return nil, "", err
			}
			return f, "bridge", nil
		}
		return NewMockFactory(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unknown client mode %q", cfg.Mode)
	}
}
