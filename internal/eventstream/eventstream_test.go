package eventstream

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentloop/internal/loop"
)

func TestMarshalEvent(t *testing.T) {
	evt := loop.Event{Kind: loop.EventContent, Payload: "hello"}
	data, err := MarshalEvent(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Kind    string `json:"kind"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != string(loop.EventContent) || got.Payload != "hello" {
		t.Fatalf("got %+v", got)
	}
}
