package kinesis

import (
	"encoding/json"

	"github.com/s2-streamstore/optr"
	"github.com/tidwall/btree"
	"gopkg.in/yaml.v3"
)

// ShardState tracks the consumer's position in one shard. The iterator cell
// is mutated by the pull loop under the consumer's lock; two states are the
// same shard iff their shard IDs match, which powers carousel dedup.
type ShardState struct {
	ShardID string

	// iterator is the next GetRecords token, nil once the shard is closed
	// and drained.
	iterator *string
}

func (s *ShardState) key() string {
	return s.ShardID
}

// Iterator returns a copy of the shard's current iterator token, if any.
func (s *ShardState) Iterator() *string {
	return optr.Cloned(s.iterator)
}

// SavedStreamState is an ordered shardID → sequence number mapping, the
// persistable snapshot of a consumer's progress. Seeding a ConsumerKit with
// it resumes each listed shard just after its recorded sequence number.
// The zero value is not usable; call NewSavedStreamState.
type SavedStreamState struct {
	inner *btree.Map[string, string]
}

func NewSavedStreamState() *SavedStreamState {
	return &SavedStreamState{inner: btree.NewMap[string, string](2)}
}

// Get returns the saved sequence number for shardID.
func (s *SavedStreamState) Get(shardID string) (string, bool) {
	if s == nil || s.inner == nil {
		return "", false
	}
	return s.inner.Get(shardID)
}

// Set records seqNum as the last-read position of shardID.
func (s *SavedStreamState) Set(shardID, seqNum string) {
	s.inner.Set(shardID, seqNum)
}

func (s *SavedStreamState) Len() int {
	if s == nil || s.inner == nil {
		return 0
	}
	return s.inner.Len()
}

// Each visits entries in shard ID order until fn returns false.
func (s *SavedStreamState) Each(fn func(shardID, seqNum string) bool) {
	if s == nil || s.inner == nil {
		return
	}
	s.inner.Scan(fn)
}

func (s *SavedStreamState) toMap() map[string]string {
	out := make(map[string]string, s.Len())
	s.Each(func(shardID, seqNum string) bool {
		out[shardID] = seqNum
		return true
	})
	return out
}

func (s *SavedStreamState) fromMap(raw map[string]string) {
	s.inner = btree.NewMap[string, string](2)
	for shardID, seqNum := range raw {
		s.inner.Set(shardID, seqNum)
	}
}

func (s *SavedStreamState) MarshalYAML() (interface{}, error) {
	return s.toMap(), nil
}

func (s *SavedStreamState) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.fromMap(raw)
	return nil
}

func (s *SavedStreamState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toMap())
}

func (s *SavedStreamState) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.fromMap(raw)
	return nil
}
