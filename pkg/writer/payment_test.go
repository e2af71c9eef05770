package writer

import "testing"

func TestDecodePaymentStampsMessageAssetOntoRows(t *testing.T) {
	payload := map[string]interface{}{
		"asset": "FOO",
		"inputs": []map[string]interface{}{
			{"type": "transfer", "amount": 100},
		},
		"outputs": []map[string]interface{}{
			{"address": "addrB", "amount": 100},
		},
	}

	pm, err := decodePayment(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pm.Inputs) != 1 || pm.Inputs[0].Asset != "FOO" {
		t.Fatalf("expected input asset FOO, got %+v", pm.Inputs)
	}
	if len(pm.Outputs) != 1 || pm.Outputs[0].Asset != "FOO" {
		t.Fatalf("expected output asset FOO, got %+v", pm.Outputs)
	}
}

func TestDecodePaymentPreservesExplicitAssetOverride(t *testing.T) {
	payload := map[string]interface{}{
		"asset": "BASE",
		"inputs": []map[string]interface{}{
			{"type": "transfer", "amount": 5, "asset": "OTHER"},
		},
	}

	pm, err := decodePayment(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pm.Inputs[0].Asset != "OTHER" {
		t.Fatalf("expected explicit asset OTHER to survive, got %s", pm.Inputs[0].Asset)
	}
}
