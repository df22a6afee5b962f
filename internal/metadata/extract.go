package metadata

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/scrypster/agentindex/pkg/types"
)

var errNotObject = errors.New("metadata document is not a JSON object")

// Keys lifted into typed fields. Everything else lands in Extra.
var knownKeys = map[string]bool{
	"name":         true,
	"type":         true,
	"description":  true,
	"capabilities": true,
	"wallet":       true,
	"agentWallet":  true,
	"contracts":    true,
	"skills":       true,
	"fleet":        true,
	"members":      true,
}

// capabilityMatcher recognises one document shape. ok is false when the
// shape is absent or yields nothing.
type capabilityMatcher func(doc map[string]any) (caps []string, ok bool)

// capabilityMatchers are tried in order; the first match wins.
var capabilityMatchers = []capabilityMatcher{
	flatCapabilities,
	skillCapabilities,
	fleetRoleCapabilities,
}

// Parse decodes a metadata document into EntityMetadata.
func Parse(raw []byte) (*types.EntityMetadata, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNotObject
	}

	md := &types.EntityMetadata{
		Name:           stringField(doc, "name"),
		Type:           stringField(doc, "type"),
		Description:    stringField(doc, "description"),
		Capabilities:   ExtractCapabilities(doc),
		FleetMembers:   extractFleetMembers(doc),
		DeclaredWallet: firstString(doc, "wallet", "agentWallet"),
		Document:       doc,
		Raw:            raw,
	}
	if contracts, ok := doc["contracts"].(map[string]any); ok {
		md.Contracts = contracts
	}

	for k, v := range doc {
		if knownKeys[k] {
			continue
		}
		if md.Extra == nil {
			md.Extra = map[string]any{}
		}
		md.Extra[k] = v
	}
	return md, nil
}

// ExtractCapabilities returns the capability list for doc, or an empty
// slice when no known shape matches. Order is preserved.
func ExtractCapabilities(doc map[string]any) []string {
	for _, match := range capabilityMatchers {
		if caps, ok := match(doc); ok {
			return caps
		}
	}
	return []string{}
}

// "capabilities": ["a", "b"]
func flatCapabilities(doc map[string]any) ([]string, bool) {
	arr, ok := doc["capabilities"].([]any)
	if !ok {
		return nil, false
	}
	var caps []string
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			caps = append(caps, s)
		}
	}
	return caps, len(caps) > 0
}

// "skills": [{"id": "a"}, {"name": "b"}]
func skillCapabilities(doc map[string]any) ([]string, bool) {
	return objectField(doc["skills"], "id", "name")
}

// "fleet": [{"role": "a"}]
func fleetRoleCapabilities(doc map[string]any) ([]string, bool) {
	return objectField(doc["fleet"], "role")
}

// objectField collects, for each object in arr, the first non-empty string
// among keys.
func objectField(v any, keys ...string) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var out []string
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s := firstString(obj, keys...); s != "" {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}

// extractFleetMembers reads member ids from "fleet" or "members". Entries
// may be strings, numbers, or objects carrying agentId, id or agent_id.
func extractFleetMembers(doc map[string]any) []string {
	var out []string
	for _, key := range []string{"fleet", "members"} {
		arr, ok := doc[key].([]any)
		if !ok {
			continue
		}
		for _, item := range arr {
			if id := memberID(item); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func memberID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		for _, k := range []string{"agentId", "id", "agent_id"} {
			if id := memberID(t[k]); id != "" {
				return id
			}
		}
	}
	return ""
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return strings.TrimSpace(s)
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(doc, k); s != "" {
			return s
		}
	}
	return ""
}
