package patreon

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Snapshot is the only shape the rest of the code sees from the identity
// endpoint. Every field is nil when the provider omitted it or sent something
// unexpected.
type Snapshot struct {
	PatreonUserID *string
	Email         *string
	Status        *string
	TierID        *string
	EntitledCents *int64
	CampaignID    *string
}

// identityDocument is the loosely decoded JSON:API response. Malformed
// resources are dropped and attributes are decoded field by field, so one odd
// value cannot fail the whole response.
type identityDocument struct {
	Data     *resource
	Included []resource
}

func parseIdentity(body []byte) (*identityDocument, error) {
	var top struct {
		Data     json.RawMessage `json:"data"`
		Included json.RawMessage `json:"included"`
	}
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}

	doc := &identityDocument{}
	if r, ok := decodeResource(top.Data); ok {
		doc.Data = r
	}
	var items []json.RawMessage
	if err := json.Unmarshal(top.Included, &items); err == nil {
		for _, item := range items {
			if r, ok := decodeResource(item); ok {
				doc.Included = append(doc.Included, *r)
			}
		}
	}
	return doc, nil
}

func decodeResource(raw json.RawMessage) (*resource, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	r := &resource{ID: fields["id"]}
	_ = json.Unmarshal(fields["type"], &r.Type)
	_ = json.Unmarshal(fields["attributes"], &r.Attributes)
	if rels, ok := fields["relationships"]; ok {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(rels, &m); err == nil {
			r.Relationships = make(map[string]relationship, len(m))
			for name, v := range m {
				var rel relationship
				if err := json.Unmarshal(v, &rel); err == nil {
					r.Relationships[name] = rel
				}
			}
		}
	}
	return r, true
}

type resource struct {
	ID            json.RawMessage
	Type          string
	Attributes    map[string]json.RawMessage
	Relationships map[string]relationship
}

type relationship struct {
	Data json.RawMessage `json:"data"`
}

type resourceRef struct {
	ID   json.RawMessage `json:"id"`
	Type string          `json:"type"`
}

// projectSnapshot maps the identity document onto Snapshot. The membership
// record is the one whose campaign matches campaignID when given and present,
// otherwise the first "member" resource.
func projectSnapshot(doc *identityDocument, campaignID string) *Snapshot {
	snap := &Snapshot{}
	if doc == nil {
		return snap
	}

	member := pickMember(doc.Included, campaignID)

	if doc.Data != nil {
		snap.PatreonUserID = idString(doc.Data.ID)
		snap.Email = stringAttr(doc.Data.Attributes, "email")
	}
	if snap.PatreonUserID == nil && member != nil {
		if refs := member.refs("user"); len(refs) > 0 {
			snap.PatreonUserID = idString(refs[0].ID)
		}
	}
	if member == nil {
		return snap
	}

	snap.Status = firstString(member.Attributes, "patron_status", "last_charge_status", "pledge_status")
	if tiers := member.refs("currently_entitled_tiers"); len(tiers) > 0 {
		snap.TierID = idString(tiers[0].ID)
	}
	if snap.TierID == nil {
		snap.TierID = stringAttr(member.Attributes, "currently_entitled_tier_id")
	}
	snap.EntitledCents = intAttr(member.Attributes, "currently_entitled_amount_cents")
	if campaigns := member.refs("campaign"); len(campaigns) > 0 {
		snap.CampaignID = idString(campaigns[0].ID)
	}
	return snap
}

func pickMember(included []resource, campaignID string) *resource {
	var first *resource
	for i := range included {
		r := &included[i]
		if r.Type != "member" {
			continue
		}
		if first == nil {
			first = r
		}
		if campaignID == "" {
			break
		}
		for _, ref := range r.refs("campaign") {
			if id := idString(ref.ID); id != nil && *id == campaignID {
				return r
			}
		}
	}
	return first
}

// refs decodes a relationship's data, which may be an object, an array or null.
func (r *resource) refs(name string) []resourceRef {
	rel, ok := r.Relationships[name]
	if !ok {
		return nil
	}
	data := bytes.TrimSpace(rel.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var many []resourceRef
		if err := json.Unmarshal(data, &many); err != nil {
			return nil
		}
		return many
	}
	var one resourceRef
	if err := json.Unmarshal(data, &one); err != nil {
		return nil
	}
	return []resourceRef{one}
}

// idString accepts ids sent as strings or numbers.
func idString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		v := n.String()
		return &v
	}
	return nil
}

func stringAttr(attrs map[string]json.RawMessage, key string) *string {
	raw, ok := attrs[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	return &s
}

func firstString(attrs map[string]json.RawMessage, keys ...string) *string {
	for _, k := range keys {
		if v := stringAttr(attrs, k); v != nil {
			return v
		}
	}
	return nil
}

func intAttr(attrs map[string]json.RawMessage, key string) *int64 {
	raw, ok := attrs[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return nil
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := int64(f)
	return &v
}
