package policy

import (
	"bytes"
	"encoding/json"

	dErrors "consentis/pkg/domain-errors"
)

// Canonicalize normalizes a stored access-policy value to a condition list.
//
// The backend's encoding of this field has been observed to vary: a JSON
// array, a JSON string wrapping the array, or a single bare object. All
// shape handling lives here; call sites never inspect the raw value.
func Canonicalize(raw json.RawMessage) ([]AccessCondition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, dErrors.New(dErrors.CodeMalformedPolicy, "access policy is empty")
	}

	switch trimmed[0] {
	case '"':
		// Stringified JSON: unwrap and retry once.
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeMalformedPolicy, "access policy is not valid JSON")
		}
		innerTrimmed := bytes.TrimSpace([]byte(inner))
		if len(innerTrimmed) > 0 && innerTrimmed[0] == '"' {
			return nil, dErrors.New(dErrors.CodeMalformedPolicy, "access policy is double-encoded")
		}
		return Canonicalize(json.RawMessage(inner))
	case '[':
		var conditions []AccessCondition
		if err := decodeStrict(trimmed, &conditions); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeMalformedPolicy, "access policy list is malformed")
		}
		if len(conditions) == 0 {
			return nil, dErrors.New(dErrors.CodeMalformedPolicy, "access policy list is empty")
		}
		return conditions, nil
	case '{':
		var condition AccessCondition
		if err := decodeStrict(trimmed, &condition); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeMalformedPolicy, "access policy object is malformed")
		}
		return []AccessCondition{condition}, nil
	default:
		return nil, dErrors.New(dErrors.CodeMalformedPolicy, "access policy has unrecognized shape")
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}
