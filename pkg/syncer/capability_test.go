package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityRecordBulkResolvesOnce(t *testing.T) {
	r := NewCapabilityRecord()
	assert.Equal(t, CapUnknown, r.BulkRead())

	r.ResolveBulkRead(CapUnsupported)
	assert.Equal(t, CapUnsupported, r.BulkRead())

	// Second resolution is ignored: one transition per session.
	r.ResolveBulkRead(CapSupported)
	assert.Equal(t, CapUnsupported, r.BulkRead())
}

func TestCapabilityRecordMembers(t *testing.T) {
	r := NewCapabilityRecord()
	assert.Equal(t, CapUnknown, r.Member("temperature"))

	r.MarkSupported("temperature")
	assert.Equal(t, CapSupported, r.Member("temperature"))

	// A supported member can still be disabled by the failure policy.
	r.MarkUnsupported("temperature")
	assert.Equal(t, CapUnsupported, r.Member("temperature"))

	// But an unsupported member never becomes supported again.
	r.MarkSupported("temperature")
	assert.Equal(t, CapUnsupported, r.Member("temperature"))

	assert.Equal(t, []string{"temperature"}, r.Unsupported())
}
