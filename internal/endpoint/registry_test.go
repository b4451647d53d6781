package endpoint

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/crm-writer/internal/exception"
)

func TestLookupUnknownOperation(t *testing.T) {
	for _, name := range []string{"", "contact_delete", "CONTACT_CREATE", "create_contact"} {
		_, err := Lookup(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, exception.ErrUnknownOperation), name)
		assert.True(t, exception.Is(err, exception.KindConfiguration), name)
	}
}

func TestResolveLegacyNames(t *testing.T) {
	for legacy, current := range legacyNames {
		op, err := Resolve(legacy)
		require.NoError(t, err, legacy)
		assert.Equal(t, current, op.Name)
	}

	_, err := Resolve("remove_deal")
	assert.True(t, errors.Is(err, exception.ErrUnknownOperation))
}

func TestOperationTableConsistency(t *testing.T) {
	for _, name := range Names() {
		op, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, op.Name)

		switch op.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			t.Errorf("%s: unexpected method %s", name, op.Method)
		}

		// Every path column must be a placeholder and a required column.
		for _, col := range op.PathColumns {
			assert.Contains(t, op.Path, "{"+col+"}", name)
			assert.Contains(t, op.RequiredColumns, col, name)
		}
		if op.Batchable {
			assert.True(t, strings.Contains(op.Path, "/batch/"), name)
			assert.Empty(t, op.PathColumns, name)
		}
		if op.KeyColumn != "" {
			assert.Contains(t, op.RequiredColumns, op.KeyColumn, name)
		}
	}
}

func TestRemoveCapability(t *testing.T) {
	company, err := Lookup("company_remove")
	require.NoError(t, err)
	assert.False(t, company.Batchable)
	assert.Equal(t, http.MethodDelete, company.Method)
	assert.True(t, company.IsPathColumn("company_id"))

	deal, err := Lookup("deal_remove")
	require.NoError(t, err)
	assert.True(t, deal.Batchable)
	assert.False(t, deal.IsPathColumn("deal_id"))
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	assert.Len(t, names, len(operations))
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "list-membership", ShapeListMembership.String())
	assert.Equal(t, "shape(42)", Shape(42).String())
}
