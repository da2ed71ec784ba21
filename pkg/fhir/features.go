// Package fhir converts FHIR AuditEvent resources into fixed-length
// numeric feature vectors for the detection engine.
//
// Extraction is total: any JSON-like input (including nil, empty maps, or
// records with wrong-typed fields) yields a valid vector. A missing or
// malformed field degrades only its own slot to a defined fallback value,
// never the whole extraction.
package fhir

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// SemanticFeatures is the number of engineered feature slots derived from
// an AuditEvent. Vectors are padded with zeros (or truncated) to match the
// model's expected input dimension.
const SemanticFeatures = 8

// HashMod bounds categorical hash values so their magnitude stays
// comparable to the numeric slots.
const HashMod = 10000

// failureKeywords flag the failure slot when found in action, outcome or
// description fields (case-insensitive).
var failureKeywords = []string{"fail", "denied", "error"}

// Feature slot indices, in vector order.
const (
	SlotResourceType = iota
	SlotAction
	SlotEventTypeCode
	SlotOutcome
	SlotUserHash
	SlotIPHash
	SlotAgentCount
	SlotFailureFlag
)

// SlotNames gives a stable semantic name per slot, used by the drift
// monitor and metrics labels.
var SlotNames = []string{
	"resource_type_hash",
	"action_hash",
	"event_type_hash",
	"outcome",
	"user_hash",
	"ip_hash",
	"agent_count",
	"failure_flag",
}

// Meta carries the per-event audit summary returned alongside the vector.
// Identifiers are privacy-hashed; raw user ids and addresses never leave
// the extractor.
type Meta struct {
	ResourceType string `json:"resourceType"`
	Action       string `json:"action"`
	Outcome      string `json:"outcome"`
	UserHash     uint32 `json:"user_hash"`
	IPHash       uint32 `json:"ip_hash"`
	AgentCount   int    `json:"agent_count"`
	FailureFlag  bool   `json:"failure_flag"`
	FeatureLen   int    `json:"feature_len"`
	Fallbacks    int    `json:"fallbacks"`
}

// Extractor maps AuditEvent records to feature vectors of length Dim.
type Extractor struct {
	// Dim is the output vector length. The first SemanticFeatures slots
	// carry the engineered features; the remainder is zero padding.
	Dim int
}

// NewExtractor returns an extractor producing vectors of length dim.
// A dim below SemanticFeatures truncates the semantic slots (matching the
// scaler is more important than keeping every slot).
func NewExtractor(dim int) *Extractor {
	if dim <= 0 {
		dim = SemanticFeatures
	}
	return &Extractor{Dim: dim}
}

// Extract converts one AuditEvent into a feature vector and its metadata.
// It never fails and never mutates the record.
func (e *Extractor) Extract(record map[string]any) ([]float64, Meta) {
	meta := Meta{FeatureLen: e.Dim}

	res := stringField(record, "resourceType", "Unknown", &meta.Fallbacks)
	act := stringField(record, "action", "None", &meta.Fallbacks)

	// Nested event.type.code classification.
	tcode := "0"
	if evt, ok := record["event"].(map[string]any); ok {
		if typ, ok := evt["type"].(map[string]any); ok {
			if c := coerceString(typ["code"]); c != "" {
				tcode = c
			}
		}
	}

	outRaw := coerceString(record["outcome"])
	if outRaw == "" {
		outRaw = "0"
	}
	outcome := 0.0
	if v, err := strconv.ParseFloat(outRaw, 64); err == nil {
		outcome = v
	}

	// First agent entry carries the subject identity and network source.
	user := "unknown"
	ip := "0.0.0.0"
	agentCount := 0
	if agents, ok := record["agent"].([]any); ok {
		agentCount = len(agents)
		if len(agents) > 0 {
			if ag, ok := agents[0].(map[string]any); ok {
				if u := coerceString(ag["userId"]); u != "" {
					user = u
				}
				if net, ok := ag["network"].(map[string]any); ok {
					if a := coerceString(net["address"]); a != "" {
						ip = a
					}
				}
			}
		}
	}

	failure := containsFailureKeyword(act, outRaw, coerceString(record["description"]))

	meta.ResourceType = res
	meta.Action = act
	meta.Outcome = outRaw
	meta.UserHash = HashToken(user)
	meta.IPHash = HashToken(ip)
	meta.AgentCount = agentCount
	meta.FailureFlag = failure

	features := []float64{
		float64(HashToken(res)),
		float64(HashToken(act)),
		float64(HashToken(tcode)),
		outcome,
		float64(meta.UserHash),
		float64(meta.IPHash),
		float64(agentCount),
		boolToFloat(failure),
	}

	// Pad or truncate to the model input dimension.
	vec := make([]float64, e.Dim)
	copy(vec, features)
	meta.FeatureLen = len(vec)
	return vec, meta
}

// HashToken reduces a token into [0, HashMod) with FNV-1a. Deterministic
// across processes and never fails; the caller coerces non-strings first.
func HashToken(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32() % HashMod
}

// stringField reads a top-level string field, counting a fallback when the
// field is absent or not a string-like value.
func stringField(record map[string]any, key, fallback string, fallbacks *int) string {
	if record == nil {
		*fallbacks++
		return fallback
	}
	if s := coerceString(record[key]); s != "" {
		return s
	}
	*fallbacks++
	return fallback
}

// coerceString renders scalar values to their textual form. Composite or
// nil values are treated as absent.
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func containsFailureKeyword(fields ...string) bool {
	for _, f := range fields {
		lf := strings.ToLower(f)
		for _, kw := range failureKeywords {
			if strings.Contains(lf, kw) {
				return true
			}
		}
	}
	return false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
