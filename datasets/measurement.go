package datasets

import (
	"bytes"
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
)

// nanFloat is a float64 that tolerates the literal NaN / Infinity tokens
// Python's json module writes for non-finite values. Standard JSON has
// no spelling for them, so encoding/json would otherwise reject whole
// measurement files over a single bad heading.
type nanFloat float64

func (f *nanFloat) UnmarshalJSON(b []byte) error {
	switch {
	case bytes.Equal(b, []byte("NaN")), bytes.Equal(b, []byte("null")):
		*f = nanFloat(math.NaN())
		return nil
	case bytes.Equal(b, []byte("Infinity")):
		*f = nanFloat(math.Inf(1))
		return nil
	case bytes.Equal(b, []byte("-Infinity")):
		*f = nanFloat(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = nanFloat(v)
	return nil
}

// Measurement is one per-frame record from a route's measurements
// directory: global pose, navigation goal, and the low-level controls
// recorded at that frame.
type Measurement struct {
	X        nanFloat `json:"x"`
	Y        nanFloat `json:"y"`
	Theta    nanFloat `json:"theta"`
	XCommand nanFloat `json:"x_command"`
	YCommand nanFloat `json:"y_command"`
	Steer    nanFloat `json:"steer"`
	Throttle nanFloat `json:"throttle"`
	Brake    nanFloat `json:"brake"`
	Command  int      `json:"command"`
	Speed    nanFloat `json:"speed"`
}

// sanitizeJSON rewrites bare NaN / Infinity tokens that appear outside
// strings so the stream parses as standard JSON. Measurement files are
// flat objects, so a token scan is sufficient.
func sanitizeJSON(b []byte) []byte {
	// The custom UnmarshalJSON above handles the tokens once the
	// decoder can tokenize them; Go's decoder cannot, so they are
	// replaced with null up front and recovered as NaN. The sign of
	// infinities is folded into NaN as well: a non-finite heading is
	// substituted with 0 downstream either way.
	b = bytes.ReplaceAll(b, []byte("-Infinity"), []byte("null"))
	b = bytes.ReplaceAll(b, []byte("Infinity"), []byte("null"))
	return bytes.ReplaceAll(b, []byte("NaN"), []byte("null"))
}

// readMeasurement loads and decodes a single measurement JSON file.
func readMeasurement(path string) (*Measurement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read measurement %s", path)
	}
	var m Measurement
	if err := json.Unmarshal(sanitizeJSON(raw), &m); err != nil {
		return nil, errors.Wrapf(err, "decode measurement %s", path)
	}
	return &m, nil
}
