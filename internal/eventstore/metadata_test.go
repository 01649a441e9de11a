package eventstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamMetadataPreservesForeignKeys(t *testing.T) {
	md, err := ParseStreamMetadata(4, []byte(`{"$maxAge":3600,"$tb":10,"owner":"billing"}`))
	require.NoError(t, err)

	tb, ok := md.TruncateBefore()
	require.True(t, ok)
	assert.Equal(t, int64(10), tb)
	assert.Equal(t, int64(4), md.Version)

	updated := md.WithTruncateBefore(25)
	b, err := json.Marshal(updated)
	require.NoError(t, err)
	assert.JSONEq(t, `{"$maxAge":3600,"$tb":25,"owner":"billing"}`, string(b))

	// original untouched
	tb, _ = md.TruncateBefore()
	assert.Equal(t, int64(10), tb)
	assert.Equal(t, int64(4), updated.Version)
}

func TestStreamMetadataWithoutTruncateBefore(t *testing.T) {
	md, err := ParseStreamMetadata(0, []byte(`{"$tb":10,"$maxCount":5}`))
	require.NoError(t, err)

	cleared := md.WithoutTruncateBefore()
	_, ok := cleared.TruncateBefore()
	assert.False(t, ok)
	assert.Equal(t, []string{"$maxCount"}, cleared.Keys())
}

func TestEmptyMetadata(t *testing.T) {
	md := EmptyMetadata()
	assert.Equal(t, NoVersion, md.Version)
	_, ok := md.TruncateBefore()
	assert.False(t, ok)

	b, err := json.Marshal(md)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	b, err = json.Marshal(md.WithTruncateBefore(3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"$tb":3}`, string(b))
}

func TestParseStreamMetadataErrors(t *testing.T) {
	_, err := ParseStreamMetadata(0, []byte(`not json`))
	require.Error(t, err)

	_, err = ParseStreamMetadata(0, []byte(`{"$tb":"ten"}`))
	require.Error(t, err)

	md, err := ParseStreamMetadata(0, []byte(`{"$tb":null}`))
	require.NoError(t, err)
	_, ok := md.TruncateBefore()
	assert.False(t, ok)
}

func TestParseLinkMetadata(t *testing.T) {
	lm, err := ParseLinkMetadata([]byte(`{"$v":"1:-1:3:3","$c":1200,"$p":1100,"$o":"Order-1","$causedBy":"c6a1"}`))
	require.NoError(t, err)
	assert.Equal(t, LinkMetadata{
		Version:         "1:-1:3:3",
		CommitPosition:  1200,
		PreparePosition: 1100,
		OriginStream:    "Order-1",
		CausedBy:        "c6a1",
	}, lm)
}

func TestParseLinkMetadataMissingPosition(t *testing.T) {
	_, err := ParseLinkMetadata([]byte(`{"$v":"1","$c":1200}`))
	require.ErrorIs(t, err, ErrNoLinkPosition)

	_, err = ParseLinkMetadata(nil)
	require.ErrorIs(t, err, ErrNoLinkPosition)

	_, err = ParseLinkMetadata([]byte(`[`))
	require.Error(t, err)
}

func TestResolvedEventIsDead(t *testing.T) {
	link := &RecordedEvent{Type: "$>"}

	assert.True(t, ResolvedEvent{Link: link}.IsDead())
	assert.True(t, ResolvedEvent{Link: link, Event: &RecordedEvent{Type: "$metadata"}}.IsDead())
	assert.False(t, ResolvedEvent{Link: link, Event: &RecordedEvent{Type: "OrderPlaced"}}.IsDead())
}

func TestResolvedEventLinkMetadata(t *testing.T) {
	ev := ResolvedEvent{
		Link:  &RecordedEvent{Metadata: []byte(`{"$c":1,"$p":1}`)},
		Event: &RecordedEvent{Metadata: []byte(`{"user":true}`)},
	}
	assert.Equal(t, `{"$c":1,"$p":1}`, string(ev.LinkMetadata()))
	assert.Equal(t, "", ResolvedEvent{}.TargetType())
}
