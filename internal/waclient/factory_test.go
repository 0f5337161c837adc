package waclient

import "testing"

func TestNewFactoryModeSelection(t *testing.T) {
	cases := []struct {
		name     string
		cfg      FactoryConfig
		wantMode string
		wantErr  bool
	}{
		{name: "explicit mock", cfg: FactoryConfig{Mode: "mock"}, wantMode: "mock"},
		{name: "auto without bridge url", cfg: FactoryConfig{Mode: "auto"}, wantMode: "mock"},
		{name: "empty mode defaults to auto", cfg: FactoryConfig{}, wantMode: "mock"},
		{name: "auto with bridge url", cfg: FactoryConfig{Mode: "auto", BridgeURL: "ws://bridge:9100/gateway"}, wantMode: "bridge"},
		{name: "explicit bridge", cfg: FactoryConfig{Mode: "bridge", BridgeURL: "ws://bridge:9100/gateway"}, wantMode: "bridge"},
		{name: "bridge without url fails", cfg: FactoryConfig{Mode: "bridge"}, wantErr: true},
		{name: "unknown mode fails", cfg: FactoryConfig{Mode: "puppet"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			factory, mode, err := NewFactory(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewFactory() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFactory() error = %v", err)
			}
			if factory == nil {
				t.Fatalf("NewFactory() returned nil factory")
			}
			if mode != tc.wantMode {
				t.Fatalf("mode = %q, want %q", mode, tc.wantMode)
			}
		})
	}
}
