package tracestore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/easystate/internal/canonical"
)

// marshalState converts a state snapshot to canonical JSON TEXT and its
// content hash.
func marshalState(v any) (data string, hash string, err error) {
	encoded, err := canonical.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal state: %w", err)
	}
	hash, err = canonical.Hash(canonical.DomainState, v)
	if err != nil {
		return "", "", err
	}
	return string(encoded), hash, nil
}

// marshalErrors converts the run's error messages to canonical JSON TEXT.
func marshalErrors(errs []string) (string, error) {
	list := make([]any, len(errs))
	for i, e := range errs {
		list[i] = e
	}
	data, err := canonical.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal errors: %w", err)
	}
	return string(data), nil
}

// unmarshalState parses canonical JSON TEXT back into plain values.
// Numbers decode as int64 since canonical JSON holds integers only.
func unmarshalState(data string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return convertNumbers(v)
}

func convertNumbers(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("unmarshal state: non-integer number %s", val)
		}
		return n, nil
	case map[string]any:
		for k, e := range val {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			val[k] = c
		}
		return val, nil
	case []any:
		for i, e := range val {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			val[i] = c
		}
		return val, nil
	default:
		return v, nil
	}
}

func unmarshalErrors(data string) ([]string, error) {
	var errs []string
	if err := json.Unmarshal([]byte(data), &errs); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	if errs == nil {
		errs = []string{}
	}
	return errs, nil
}
