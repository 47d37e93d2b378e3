package gcp

import (
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/Lllllllleong/emailnfewarehouse/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialWriteError(t *testing.T) {
	putErr := bigquery.PutMultiError{
		{RowIndex: 1, Errors: bigquery.MultiError{errors.New("no such field: foo")}},
		{RowIndex: 3, Errors: bigquery.MultiError{errors.New("invalid: dateTime"), errors.New("stopped")}},
	}

	err := partialWriteError("base-nfe-supplier-invoice-line", putErr)

	var partial *services.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "base-nfe-supplier-invoice-line", partial.Table)
	require.Len(t, partial.Rows, 2)
	assert.Equal(t, 3, partial.Rows[1].RowIndex)
	assert.Equal(t, []string{"invalid: dateTime", "stopped"}, partial.Rows[1].Reasons)
}

func TestPartialWriteError_PassesOtherErrors(t *testing.T) {
	other := errors.New("googleapi: 503")
	assert.Same(t, other, partialWriteError("t", other))
}
