package duty

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when the data field is not a list of objects.
var ErrMalformedResponse = errors.New("malformed proposer duties response")

// proposerDutiesResponse mirrors GET /eth/v1/validator/duties/proposer/{epoch}.
// Only data is used; dependent_root and execution_optimistic are ignored.
type proposerDutiesResponse struct {
	Data json.RawMessage `json:"data"`
}

// DecodeProposerDuties decodes a proposer duties response body into records
// for epoch. A body without data (or with null or []) yields no records and no error.
func DecodeProposerDuties(epoch uint64, body []byte) ([]Record, error) {
	var resp proposerDutiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(resp.Data) == 0 || bytes.Equal(bytes.TrimSpace(resp.Data), []byte("null")) {
		return nil, nil
	}

	var elems []map[string]json.RawMessage
	if err := json.Unmarshal(resp.Data, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	records := make([]Record, 0, len(elems))
	for _, elem := range elems {
		records = append(records, Record{
			Epoch:          epoch,
			Slot:           field(elem, "slot"),
			ValidatorIndex: field(elem, "validator_index"),
			PublicKey:      field(elem, "pubkey"),
		})
	}

	return records, nil
}

// field returns the textual value of key, or NotAvailable when absent or null.
func field(elem map[string]json.RawMessage, key string) string {
	raw, ok := elem[key]
	if !ok {
		return NotAvailable
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return NotAvailable
	}

	switch val := v.(type) {
	case nil:
		return NotAvailable
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return string(bytes.TrimSpace(raw))
	}
}
