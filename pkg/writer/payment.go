package writer

import (
	"encoding/json"
	"fmt"

	"github.com/meshledger/dagnode/pkg/dag"
)

func marshalPayload(payload interface{}) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("writer: marshal message payload: %w", err)
	}
	return b, nil
}

type paymentMessage struct {
	Asset   string      `json:"asset"`
	Inputs  []dag.Input `json:"inputs"`
	Outputs []dag.Output `json:"outputs"`
}

// decodePayment unmarshals a payment message's opaque payload into its
// inputs/outputs, stamping the shared asset onto each so storage.Output's
// per-row asset column stays consistent with the message-level declaration.
func decodePayment(payload interface{}) (paymentMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return paymentMessage{}, fmt.Errorf("writer: marshal payment payload: %w", err)
	}
	var pm paymentMessage
	if err := json.Unmarshal(b, &pm); err != nil {
		return paymentMessage{}, fmt.Errorf("writer: unmarshal payment payload: %w", err)
	}
	for i := range pm.Inputs {
		if pm.Inputs[i].Asset == "" {
			pm.Inputs[i].Asset = pm.Asset
		}
	}
	for i := range pm.Outputs {
		if pm.Outputs[i].Asset == "" {
			pm.Outputs[i].Asset = pm.Asset
		}
	}
	return pm, nil
}
