package scene

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Scalar is a scene document value that may be written as a JSON string,
// number or boolean. It canonicalizes to a string: numbers render without
// trailing zeros and booleans as "true"/"false", so `"message": 80` and
// `"message": "80"` compare equal at runtime.
type Scalar string

func (s Scalar) String() string { return string(s) }

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		*s = Scalar(v)
	case float64:
		*s = Scalar(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		*s = Scalar(strconv.FormatBool(v))
	default:
		return fmt.Errorf("scene: value %s is not a string, number or boolean", data)
	}
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}
