package core

// ProductView is the wire format of a sellable product.
type ProductView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	DefaultCode *string  `json:"default_code"`
	Barcode     *string  `json:"barcode"`
	ListPrice   *float64 `json:"list_price"`
	UOMID       *int64   `json:"uom_id"`
	UOMName     *string  `json:"uom_name"`
	CategID     *int64   `json:"categ_id"`
	CategName   *string  `json:"categ_name"`
	Type        *string  `json:"type"`
	Active      bool     `json:"active"`
}

// Products lists sellable products. Archived products are hidden unless the
// caller filters on active explicitly.
var Products = &Resource{
	Name:  "product",
	Path:  "products",
	Table: "products",
	Filters: FilterSpec{
		"category_id": {Column: "categ_id", Type: FieldInt},
		"type":        {Column: "type", Type: FieldString},
		"active":      {Column: "active", Type: FieldBool},
	},
	Base: []Condition{Eq("sale_ok", true)},
	Scope: func(filters []Condition) []Condition {
		if hasColumn(filters, "active") {
			return nil
		}
		return []Condition{Eq("active", true)}
	},
	Order:   []Order{{Column: "id"}},
	Project: projectEach(projectProduct),
}

func init() {
	Register(Products)
}

func projectProduct(row Row) any {
	name, _ := row.String("name")
	active, _ := row.Bool("active")
	return ProductView{
		ID:          row.ID(),
		Name:        name,
		DefaultCode: row.stringPtr("default_code"),
		Barcode:     row.stringPtr("barcode"),
		ListPrice:   row.floatPtr("list_price"),
		UOMID:       row.int64Ptr("uom_id"),
		UOMName:     row.stringPtr("uom_name"),
		CategID:     row.int64Ptr("categ_id"),
		CategName:   row.stringPtr("categ_name"),
		Type:        row.stringPtr("type"),
		Active:      active,
	}
}
