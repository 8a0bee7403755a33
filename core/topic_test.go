package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicConstructorsAndKinds(t *testing.T) {
	tests := []struct {
		topic Topic
		kind  TopicKind
		id    string
	}{
		{WaiterTopic("w-1"), TopicKindPersonal, "w-1"},
		{BroadcastTopic("r-1"), TopicKindBroadcast, "r-1"},
		{OrderTopic("o-1"), TopicKindOrder, "o-1"},
	}

	for _, tt := range tests {
		kind, err := tt.topic.Kind()
		require.NoError(t, err)
		assert.Equal(t, tt.kind, kind)
		assert.Equal(t, tt.id, tt.topic.ID())
	}
}

func TestParseTopic(t *testing.T) {
	topic, err := ParseTopic("waiter:abc")
	require.NoError(t, err)
	assert.Equal(t, WaiterTopic("abc"), topic)

	for _, name := range []string{"", "waiter:", "kitchen:1", "order", "restaurant-broadcast:"} {
		_, err := ParseTopic(name)
		assert.ErrorIs(t, err, ErrUnknownTopic, "name %q", name)
	}
}
