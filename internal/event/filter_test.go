package event

import "testing"

func TestFilterSuppressesConfiguredKinds(t *testing.T) {
	f := NewFilter([]string{"message", " Media "})

	if f.Enabled(KindMessage) {
		t.Fatalf("message should be suppressed")
	}
	if f.Enabled(KindMedia) {
		t.Fatalf("media should be suppressed despite whitespace and case")
	}
	if !f.Enabled(KindQR) {
		t.Fatalf("qr should stay enabled")
	}
	if !f.Enabled(KindMessageAck) {
		t.Fatalf("message_ack should stay enabled")
	}
}

func TestFilterEmptyListEnablesEverything(t *testing.T) {
	f := NewFilter(nil)
	for _, kind := range []Kind{KindQR, KindAuthenticated, KindReady, KindDisconnected, KindMessage, KindMessageAck, KindMedia, KindStateChange} {
		if !f.Enabled(kind) {
			t.Fatalf("%s should be enabled with an empty suppression list", kind)
		}
	}
}

func TestNewEnvelopeStampsIdentity(t *testing.T) {
	env := New("wa-1", KindMessage, []byte(`{"from":"123"}`))
	if env.ID == "" {
		t.Fatalf("envelope id should not be empty")
	}
	if env.SessionID != "wa-1" || env.DataType != KindMessage {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Fatalf("timestamp should be set")
	}
}
