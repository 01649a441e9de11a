package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTruncatable(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"$ce-Order", true},
		{"$et-OrderPlaced", true},
		{"$ce-", true},
		{"Order-1", false},
		{"$streams", false},
		{"$$$ce-Order", false},
		{"ce-Order", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTruncatable(tt.name))
		})
	}
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "Order", Category("$ce-Order"))
	assert.Equal(t, "OrderPlaced", Category("$et-OrderPlaced"))
	assert.Equal(t, "Order-Line", Category("$ce-Order-Line"))
	assert.Equal(t, "x", Category("$bc-x"))
	assert.Equal(t, "streams", Category("$streams"))
	assert.Equal(t, "Order", Category("Order"))
}

func TestCheckpointStreamNames(t *testing.T) {
	assert.Equal(t,
		"$persistentsubscription-$ce-Order::billing-checkpoint",
		SubscriptionCheckpoint("$ce-Order", "billing"))
	assert.Equal(t, "$projections-orders-checkpoint", ProjectionCheckpoint("orders"))
	assert.Equal(t, "$projections-$by_category-checkpoint", ProjectionCheckpoint("$by_category"))
	assert.Equal(t, "$$$ce-Order", Metadata("$ce-Order"))
}

func TestIsSystem(t *testing.T) {
	assert.True(t, IsSystem("$by_category"))
	assert.False(t, IsSystem("orders"))
}
