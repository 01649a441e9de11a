package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

const truncateBeforeKey = "$tb"

// ErrNoLinkPosition is returned when link metadata lacks the commit or
// prepare position.
var ErrNoLinkPosition = errors.New("link metadata has no position")

// StreamMetadata is the decoded metadata of a stream at a given version.
// Keys linktrunc does not manage are carried through unchanged.
type StreamMetadata struct {
	Version int64
	raw     map[string]json.RawMessage
}

// EmptyMetadata is the metadata of a stream that has none.
func EmptyMetadata() StreamMetadata {
	return StreamMetadata{Version: NoVersion}
}

// ParseStreamMetadata decodes a metadata event body.
func ParseStreamMetadata(version int64, data []byte) (StreamMetadata, error) {
	md := StreamMetadata{Version: version}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md.raw); err != nil {
		return StreamMetadata{}, fmt.Errorf("decode stream metadata: %w", err)
	}
	if raw, ok := md.raw[truncateBeforeKey]; ok && string(raw) != "null" {
		var tb int64
		if err := json.Unmarshal(raw, &tb); err != nil {
			return StreamMetadata{}, fmt.Errorf("decode %s: %w", truncateBeforeKey, err)
		}
	}
	return md, nil
}

// TruncateBefore returns the stored truncate-before value.
func (m StreamMetadata) TruncateBefore() (int64, bool) {
	raw, ok := m.raw[truncateBeforeKey]
	if !ok || string(raw) == "null" {
		return 0, false
	}
	var tb int64
	if err := json.Unmarshal(raw, &tb); err != nil {
		return 0, false
	}
	return tb, true
}

// WithTruncateBefore returns a copy with truncate-before set to tb.
func (m StreamMetadata) WithTruncateBefore(tb int64) StreamMetadata {
	out := m.clone()
	out.raw[truncateBeforeKey] = json.RawMessage(fmt.Sprintf("%d", tb))
	return out
}

// WithoutTruncateBefore returns a copy with truncate-before removed.
func (m StreamMetadata) WithoutTruncateBefore() StreamMetadata {
	out := m.clone()
	delete(out.raw, truncateBeforeKey)
	return out
}

// Keys returns the metadata keys in sorted order.
func (m StreamMetadata) Keys() []string {
	keys := make([]string, 0, len(m.raw))
	for k := range m.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the metadata body. The version is not part of it.
func (m StreamMetadata) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m.raw)
}

func (m StreamMetadata) clone() StreamMetadata {
	out := StreamMetadata{Version: m.Version, raw: make(map[string]json.RawMessage, len(m.raw)+1)}
	for k, v := range m.raw {
		out.raw[k] = v
	}
	return out
}

// LinkMetadata is the metadata written on link events by the system
// projections.
type LinkMetadata struct {
	Version         string `json:"$v"`
	CommitPosition  int64  `json:"$c"`
	PreparePosition int64  `json:"$p"`
	OriginStream    string `json:"$o"`
	CausedBy        string `json:"$causedBy"`
}

// ParseLinkMetadata decodes link metadata. Both positions are required.
func ParseLinkMetadata(data []byte) (LinkMetadata, error) {
	var aux struct {
		Version  string `json:"$v"`
		Commit   *int64 `json:"$c"`
		Prepare  *int64 `json:"$p"`
		Origin   string `json:"$o"`
		CausedBy string `json:"$causedBy"`
	}
	if len(data) == 0 {
		return LinkMetadata{}, ErrNoLinkPosition
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return LinkMetadata{}, fmt.Errorf("decode link metadata: %w", err)
	}
	if aux.Commit == nil || aux.Prepare == nil {
		return LinkMetadata{}, ErrNoLinkPosition
	}
	return LinkMetadata{
		Version:         aux.Version,
		CommitPosition:  *aux.Commit,
		PreparePosition: *aux.Prepare,
		OriginStream:    aux.Origin,
		CausedBy:        aux.CausedBy,
	}, nil
}
