package storage

import "encoding/json"

// Badger values are plain JSON. The record types carry explicit json tags
// and contain no interface-typed fields, so no intermediate serializable
// structs are needed.

// encodeActivity serializes an Activity to JSON.
func encodeActivity(act *Activity) ([]byte, error) {
	return json.Marshal(act)
}

// decodeActivity deserializes an Activity from JSON.
func decodeActivity(data []byte) (*Activity, error) {
	var act Activity
	if err := json.Unmarshal(data, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// encodeExchange serializes an Exchange to JSON.
func encodeExchange(exc *Exchange) ([]byte, error) {
	return json.Marshal(exc)
}

// decodeExchange deserializes an Exchange from JSON.
func decodeExchange(data []byte) (*Exchange, error) {
	var exc Exchange
	if err := json.Unmarshal(data, &exc); err != nil {
		return nil, err
	}
	return &exc, nil
}
