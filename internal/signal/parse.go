package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// estimateSchema bounds the payload an external producer may post. Extra
// fields are tolerated; out-of-range numbers are rejected before parsing.
const estimateSchema = `{
  "type": "object",
  "required": ["direction", "confidence"],
  "properties": {
    "producer":           {"type": "string"},
    "direction":          {"type": "number", "minimum": -1, "maximum": 1},
    "confidence":         {"type": "number", "minimum": 0, "maximum": 1},
    "expected_magnitude": {"type": "number"},
    "reliability":        {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var compiledEstimateSchema = jsonschema.MustCompileString("estimate.json", estimateSchema)

// ParseEstimate validates and decodes a raw producer payload. A payload that
// fails schema validation is an error, not a nil estimate: "no signal" is
// expressed by not posting at all.
func ParseEstimate(raw []byte) (*Estimate, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("empty estimate payload")
	}
	if !gjson.Valid(trimmed) {
		return nil, fmt.Errorf("estimate payload is not valid json")
	}
	var doc any
	if err := jsonUnmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("estimate payload decode: %w", err)
	}
	if err := compiledEstimateSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("estimate payload schema: %w", err)
	}

	parsed := gjson.Parse(trimmed)
	est := Estimate{
		Producer:          strings.TrimSpace(parsed.Get("producer").String()),
		Direction:         parsed.Get("direction").Float(),
		Confidence:        parsed.Get("confidence").Float(),
		ExpectedMagnitude: parsed.Get("expected_magnitude").Float(),
		Reliability:       parsed.Get("reliability").Float(),
	}
	if !parsed.Get("reliability").Exists() {
		// Unknown track record: neutral rather than zero, so a fresh
		// producer is not weighted out of existence.
		est.Reliability = 0.5
	}
	clamped := est.Clamped()
	return &clamped, nil
}

func jsonUnmarshal(raw string, dst *any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	return dec.Decode(dst)
}
