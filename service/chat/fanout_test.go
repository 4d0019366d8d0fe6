package chat

import (
	"testing"
	"time"
)

func TestBroadcastAfterCloseIsNoop(t *testing.T) {
	f := NewFanout(1, 1)
	c := testClient("alice")

	f.Broadcast([]*Client{c}, []byte(`{"event":"x"}`))
	select {
	case <-c.Send:
	case <-time.After(time.Second):
		t.Fatal("broadcast never delivered")
	}

	f.Close()
	// the bus subscriber can race shutdown; a late broadcast must not
	// panic on the closed job channel
	f.Broadcast([]*Client{c}, []byte(`{"event":"y"}`))
	f.Close()
}
