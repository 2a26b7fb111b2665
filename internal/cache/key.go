package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
)

// Example is one few-shot example carried into the prompt and into the
// cache key, since it changes what the model is asked to produce.
type Example struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// KeyRequest captures every field that makes two generation requests
// logically distinct.
type KeyRequest struct {
	ModelName      string
	ModelProvider  string
	EndpointURL    string
	Instruction    string
	RowData        map[string]any
	Examples       []Example
	UsesSources    bool
	ProcessVersion int
}

// DeriveKey hashes a canonical serialization of the request. Object keys
// are serialized in sorted order and numeric values are reduced to stable
// decimal strings, so two logically-equal requests hash identically no
// matter how their fields were assembled. includeVersion folds the
// process version into the key (see Options.ScopeByProcessVersion).
func DeriveKey(req KeyRequest, includeVersion bool) string {
	payload := map[string]any{
		"model_name":     req.ModelName,
		"model_provider": req.ModelProvider,
		"endpoint_url":   req.EndpointURL,
		"instruction":    req.Instruction,
		"row_data":       canonicalize(req.RowData),
		"uses_sources":   req.UsesSources,
	}
	if len(req.Examples) > 0 {
		exs := make([]any, 0, len(req.Examples))
		for _, ex := range req.Examples {
			exs = append(exs, map[string]any{"input": ex.Input, "output": ex.Output})
		}
		payload["examples"] = exs
	}
	if includeVersion {
		payload["process_version"] = strconv.Itoa(req.ProcessVersion)
	}
	// encoding/json writes map keys in sorted order, which makes the
	// serialization independent of insertion order.
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(req.Instruction)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// canonicalize rewrites arbitrary row data into a form with one stable
// serialization: nested maps stay maps (sorted by the encoder), and every
// numeric value becomes a decimal string so int64/uint64/float64/Number
// representations of the same quantity collapse together.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = canonicalize(vv)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = vv
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = canonicalize(vv)
		}
		return out
	case json.Number:
		return t.String()
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return canonicalize(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case nil:
		return ""
	default:
		return v
	}
}
