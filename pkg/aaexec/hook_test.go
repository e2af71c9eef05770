package aaexec

import (
	"testing"

	"github.com/meshledger/dagnode/pkg/dag"
)

func TestDecodeTriggerPaymentAggregatesOutputs(t *testing.T) {
	payload := map[string]interface{}{
		"asset": "",
		"outputs": []interface{}{
			map[string]interface{}{"address": "AA1", "amount": float64(100)},
			map[string]interface{}{"address": "AA1", "amount": float64(50)},
		},
	}
	pm, err := decodeTriggerPayment(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pm.Outputs) != 2 {
		t.Fatalf("expected 2 output rows, got %d", len(pm.Outputs))
	}
	if pm.Outputs[0].Address != "AA1" || pm.Outputs[0].Amount != 100 {
		t.Fatalf("unexpected first output: %+v", pm.Outputs[0])
	}
}

func TestDecodeDataMessageReturnsFirstDataPayload(t *testing.T) {
	u := &dag.Unit{
		Messages: []dag.Message{
			{App: dag.AppPayment, Payload: map[string]interface{}{"asset": ""}},
			{App: dag.AppData, Payload: map[string]interface{}{"key": "value"}},
		},
	}
	data := decodeDataMessage(u)
	if data["key"] != "value" {
		t.Fatalf("expected data message payload, got %+v", data)
	}
}

func TestDecodeDataMessageReturnsNilWhenAbsent(t *testing.T) {
	u := &dag.Unit{Messages: []dag.Message{{App: dag.AppPayment, Payload: map[string]interface{}{}}}}
	if data := decodeDataMessage(u); data != nil {
		t.Fatalf("expected nil, got %+v", data)
	}
}
