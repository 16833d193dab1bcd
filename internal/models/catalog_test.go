package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poslab/catsync/internal/models"
)

func TestDecodeObjectVariation(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "ITEM_VARIATION",
		"id": "VAR-1",
		"version": 7,
		"updated_at": "2025-06-01T10:00:00Z",
		"item_variation_data": {
			"name": "Large",
			"item_id": "ITEM-1",
			"sku": "SKU-42",
			"upc": "012345678905",
			"price_money": {"amount": 450, "currency": "USD"}
		}
	}`)

	obj, err := models.DecodeObject(raw)
	require.NoError(t, err)

	assert.Equal(t, models.TypeVariation, obj.Type)
	assert.Equal(t, "VAR-1", obj.ID)
	assert.Equal(t, int64(7), obj.Version)
	assert.Equal(t, "Large", obj.Name)
	assert.Equal(t, "ITEM-1", obj.ItemID)
	assert.Equal(t, "SKU-42", obj.SKU)
	assert.Equal(t, "012345678905", obj.Barcode)
	assert.Equal(t, int64(450), obj.PriceAmount)
	assert.Equal(t, "USD", obj.Currency)
	assert.True(t, obj.Active)
	assert.True(t, obj.Valid())
}

func TestDecodeObjectDeletedItem(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "ITEM",
		"id": "ITEM-9",
		"version": 3,
		"is_deleted": true,
		"item_data": {"name": "Gone", "category_id": "CAT-1"}
	}`)

	obj, err := models.DecodeObject(raw)
	require.NoError(t, err)

	assert.True(t, obj.Deleted)
	assert.False(t, obj.Active)
	assert.Equal(t, "CAT-1", obj.CategoryID)
}

func TestDecodeObjectTax(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "TAX",
		"id": "TAX-1",
		"version": 1,
		"tax_data": {"name": "Sales Tax", "percentage": "8.75", "enabled": true}
	}`)

	obj, err := models.DecodeObject(raw)
	require.NoError(t, err)

	assert.Equal(t, "8.75", obj.Percentage)
	assert.True(t, obj.Active)
}

func TestDecodeObjectMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing id", `{"type":"ITEM","version":1}`},
		{"missing type", `{"id":"X","version":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := models.DecodeObject(json.RawMessage(tt.raw))
			assert.Error(t, err)
			assert.False(t, obj.Valid())
		})
	}
}

func TestDecodeLocation(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "LOC-1",
		"name": "Main Street",
		"status": "ACTIVE",
		"currency": "USD",
		"updated_at": "2025-06-01T10:00:00Z"
	}`)

	obj, err := models.DecodeLocation(raw)
	require.NoError(t, err)

	assert.Equal(t, models.TypeLocation, obj.Type)
	assert.Equal(t, "Main Street", obj.Name)
	assert.True(t, obj.Active)
	// Version derives from updated_at so the shared version gate applies.
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).UnixMilli(), obj.Version)
	assert.True(t, obj.Valid())
}

func TestDecodeLocationInactive(t *testing.T) {
	obj, err := models.DecodeLocation(json.RawMessage(`{"id":"LOC-2","name":"Closed","status":"INACTIVE"}`))
	require.NoError(t, err)
	assert.False(t, obj.Active)
	assert.True(t, obj.Valid(), "missing updated_at still yields a usable version")
}
