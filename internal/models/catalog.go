package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ObjectType identifies a catalog entity kind.
type ObjectType string

const (
	TypeItem         ObjectType = "ITEM"
	TypeVariation    ObjectType = "ITEM_VARIATION"
	TypeCategory     ObjectType = "CATEGORY"
	TypeTax          ObjectType = "TAX"
	TypeModifierList ObjectType = "MODIFIER_LIST"
	TypeLocation     ObjectType = "LOCATION"
)

// CatalogTypes lists the types fetched through the paginated catalog
// endpoints. Locations come from their own endpoint.
var CatalogTypes = []ObjectType{
	TypeItem,
	TypeVariation,
	TypeCategory,
	TypeTax,
	TypeModifierList,
}

// ParseObjectType resolves a user-supplied type name.
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeItem, TypeVariation, TypeCategory, TypeTax, TypeModifierList, TypeLocation:
		return t, nil
	}
	return "", fmt.Errorf("unknown object type %q", s)
}

// Object is a denormalized catalog entity as delivered by the remote API.
// Version is the remote-assigned write token; a stored version never
// regresses, so replayed or stale records are discarded on apply.
type Object struct {
	Type      ObjectType `json:"type"`
	ID        string     `json:"id"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
	Deleted   bool       `json:"is_deleted"`

	// Display fields, populated per type.
	Name        string `json:"name,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Barcode     string `json:"barcode,omitempty"`
	PriceAmount int64  `json:"price_amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	CategoryID  string `json:"category_id,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	Percentage  string `json:"percentage,omitempty"`
	Active      bool   `json:"active"`
}

// Valid reports whether the object carries the minimum shape required to
// be applied. Objects failing this check are skipped, not fatal.
func (o *Object) Valid() bool {
	return o.ID != "" && o.Type != "" && o.Version > 0
}

// CatalogPage is one page of a remote catalog walk.
type CatalogPage struct {
	Objects []Object
	Cursor  string // continuation token, empty on the last page
}

// wire types for decoding remote catalog responses

type wireObject struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
	IsDeleted bool           `json:"is_deleted"`
	Item      *wireItemData  `json:"item_data"`
	Variation *wireVarData   `json:"item_variation_data"`
	Category  *wireNamedData `json:"category_data"`
	Tax       *wireTaxData   `json:"tax_data"`
	Modifiers *wireNamedData `json:"modifier_list_data"`
}

type wireItemData struct {
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
}

type wireVarData struct {
	Name   string `json:"name"`
	ItemID string `json:"item_id"`
	SKU    string `json:"sku"`
	UPC    string `json:"upc"`
	Price  *struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"price_money"`
}

type wireNamedData struct {
	Name string `json:"name"`
}

type wireTaxData struct {
	Name       string `json:"name"`
	Percentage string `json:"percentage"`
	Enabled    bool   `json:"enabled"`
}

// DecodeObject parses one remote catalog object. A decode failure returns
// the error and a zero-ID object so callers can count and skip it.
func DecodeObject(raw json.RawMessage) (Object, error) {
	var w wireObject
	if err := json.Unmarshal(raw, &w); err != nil {
		return Object{}, fmt.Errorf("decode catalog object: %w", err)
	}
	if w.ID == "" || w.Type == "" {
		return Object{}, fmt.Errorf("catalog object missing id or type")
	}

	obj := Object{
		Type:      ObjectType(w.Type),
		ID:        w.ID,
		Version:   w.Version,
		UpdatedAt: w.UpdatedAt,
		Deleted:   w.IsDeleted,
		Active:    !w.IsDeleted,
	}

	switch {
	case w.Item != nil:
		obj.Name = w.Item.Name
		obj.CategoryID = w.Item.CategoryID
	case w.Variation != nil:
		obj.Name = w.Variation.Name
		obj.ItemID = w.Variation.ItemID
		obj.SKU = w.Variation.SKU
		obj.Barcode = w.Variation.UPC
		if w.Variation.Price != nil {
			obj.PriceAmount = w.Variation.Price.Amount
			obj.Currency = w.Variation.Price.Currency
		}
	case w.Category != nil:
		obj.Name = w.Category.Name
	case w.Tax != nil:
		obj.Name = w.Tax.Name
		obj.Percentage = w.Tax.Percentage
		obj.Active = w.Tax.Enabled && !w.IsDeleted
	case w.Modifiers != nil:
		obj.Name = w.Modifiers.Name
	}

	return obj, nil
}

// DecodeLocation parses one remote location record. Locations are not
// versioned by the remote API, so the updated_at timestamp is mapped onto
// the version token to keep the apply path uniform.
func DecodeLocation(raw json.RawMessage) (Object, error) {
	var w struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Status    string    `json:"status"`
		UpdatedAt time.Time `json:"updated_at"`
		Currency  string    `json:"currency"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return Object{}, fmt.Errorf("decode location: %w", err)
	}
	if w.ID == "" {
		return Object{}, fmt.Errorf("location missing id")
	}

	version := w.UpdatedAt.UnixMilli()
	if version <= 0 {
		version = 1
	}

	return Object{
		Type:      TypeLocation,
		ID:        w.ID,
		Version:   version,
		UpdatedAt: w.UpdatedAt,
		Name:      w.Name,
		Currency:  w.Currency,
		Active:    strings.EqualFold(w.Status, "ACTIVE"),
	}, nil
}
