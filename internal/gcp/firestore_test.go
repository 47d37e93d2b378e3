package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeaseDocID(t *testing.T) {
	assert.Equal(t, "Label_12", leaseDocID("Label_12"))
	assert.Equal(t, "INBOX_nfe", leaseDocID("INBOX/nfe"))
	assert.Equal(t, "default", leaseDocID(""))
	assert.Equal(t, "default", leaseDocID(".."))
}
