// Package endpoint holds the compiled-in table of CRM operations.
//
// Every operation binds an HTTP method, a URL path template and the column contract
// its input rows must satisfy. The table is immutable; adding an object type means
// adding one entry here and, if the body shape is new, one transformer.
package endpoint

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/ryabkov82/crm-writer/internal/exception"
)

// Shape is the row-shape family that decides how rows become request bodies.
type Shape int

const (
	ShapeCreateSimple Shape = iota
	ShapeUpdateByID
	ShapeCreateWithAssociation
	ShapeListMembership
	ShapeListCreate
	ShapeRemoveByID
)

func (s Shape) String() string {
	switch s {
	case ShapeCreateSimple:
		return "create-simple"
	case ShapeUpdateByID:
		return "update-by-id"
	case ShapeCreateWithAssociation:
		return "create-with-association"
	case ShapeListMembership:
		return "list-membership"
	case ShapeListCreate:
		return "list-create"
	case ShapeRemoveByID:
		return "remove-by-id"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// PropertyStyle selects the body layout of singular (non-batch) property payloads.
type PropertyStyle int

const (
	// PropertyMap is the v3 layout: {"properties": {"col": "value"}}.
	PropertyMap PropertyStyle = iota
	// PropertyListByProperty is the contacts v1 layout: [{"property": col, "value": v}].
	PropertyListByProperty
	// PropertyListByName is the companies v2 layout: [{"name": col, "value": v}].
	PropertyListByName
)

// Association columns consumed by create-with-association operations.
const (
	ColumnAssociationID       = "association_id"
	ColumnAssociationCategory = "association_category"
	ColumnAssociationTypeID   = "association_type_id"
)

// List-membership columns.
const (
	ColumnListID = "list_id"
	ColumnVids   = "vids"
	ColumnEmails = "emails"
)

// Operation is one registered unit of work.
type Operation struct {
	Name   string
	Method string
	// Path is relative to the API base URL and may contain {placeholders}.
	Path            string
	RequiredColumns []string
	Shape           Shape
	// Batchable operations submit {"inputs": [...]} bodies of up to MaxBatchSize rows.
	Batchable bool
	// PathColumns are substituted into Path and never sent as properties.
	PathColumns []string
	// KeyColumn is the column that must be non-empty on every row: the name-like
	// column for creates, the id column for updates and removes, the grouping key
	// for list membership.
	KeyColumn     string
	PropertyStyle PropertyStyle
}

// MaxBatchSize is the largest number of inputs the batch endpoints accept.
const MaxBatchSize = 100

// IsPathColumn reports whether column is substituted into the URL.
func (o Operation) IsPathColumn(column string) bool {
	for _, c := range o.PathColumns {
		if c == column {
			return true
		}
	}
	return false
}

var operations = map[string]Operation{
	"contact_create": {
		Name:            "contact_create",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/contacts/batch/create",
		RequiredColumns: []string{"email"},
		Shape:           ShapeCreateSimple,
		Batchable:       true,
		KeyColumn:       "email",
	},
	"contact_update": {
		Name:            "contact_update",
		Method:          http.MethodPost,
		Path:            "contacts/v1/contact/vid/{vid}/profile",
		RequiredColumns: []string{"vid"},
		Shape:           ShapeUpdateByID,
		PathColumns:     []string{"vid"},
		KeyColumn:       "vid",
		PropertyStyle:   PropertyListByProperty,
	},
	"contact_update_by_email": {
		Name:            "contact_update_by_email",
		Method:          http.MethodPost,
		Path:            "contacts/v1/contact/email/{email}/profile",
		RequiredColumns: []string{"email"},
		Shape:           ShapeUpdateByID,
		PathColumns:     []string{"email"},
		KeyColumn:       "email",
		PropertyStyle:   PropertyListByProperty,
	},
	"contact_add_to_list": {
		Name:            "contact_add_to_list",
		Method:          http.MethodPost,
		Path:            "contacts/v1/lists/{list_id}/add",
		RequiredColumns: []string{ColumnListID, ColumnVids, ColumnEmails},
		Shape:           ShapeListMembership,
		PathColumns:     []string{ColumnListID},
		KeyColumn:       ColumnListID,
	},
	"contact_remove_from_list": {
		Name:            "contact_remove_from_list",
		Method:          http.MethodPost,
		Path:            "contacts/v1/lists/{list_id}/remove",
		RequiredColumns: []string{ColumnListID, ColumnVids},
		Shape:           ShapeListMembership,
		PathColumns:     []string{ColumnListID},
		KeyColumn:       ColumnListID,
	},
	"list_create": {
		Name:            "list_create",
		Method:          http.MethodPost,
		Path:            "contacts/v1/lists",
		RequiredColumns: []string{"name"},
		Shape:           ShapeListCreate,
		KeyColumn:       "name",
	},
	"company_create": {
		Name:            "company_create",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/companies/batch/create",
		RequiredColumns: []string{"name"},
		Shape:           ShapeCreateSimple,
		Batchable:       true,
		KeyColumn:       "name",
	},
	"company_update": {
		Name:            "company_update",
		Method:          http.MethodPut,
		Path:            "companies/v2/companies/{company_id}",
		RequiredColumns: []string{"company_id"},
		Shape:           ShapeUpdateByID,
		PathColumns:     []string{"company_id"},
		KeyColumn:       "company_id",
		PropertyStyle:   PropertyListByName,
	},
	"company_remove": {
		Name:            "company_remove",
		Method:          http.MethodDelete,
		Path:            "companies/v2/companies/{company_id}",
		RequiredColumns: []string{"company_id"},
		Shape:           ShapeRemoveByID,
		PathColumns:     []string{"company_id"},
		KeyColumn:       "company_id",
	},
	"deal_create": {
		Name:            "deal_create",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/deals/batch/create",
		RequiredColumns: []string{ColumnAssociationID, ColumnAssociationCategory, ColumnAssociationTypeID},
		Shape:           ShapeCreateWithAssociation,
		Batchable:       true,
	},
	"deal_update": {
		Name:            "deal_update",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/deals/batch/update",
		RequiredColumns: []string{"deal_id"},
		Shape:           ShapeUpdateByID,
		Batchable:       true,
		KeyColumn:       "deal_id",
	},
	"deal_remove": {
		Name:            "deal_remove",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/deals/batch/archive",
		RequiredColumns: []string{"deal_id"},
		Shape:           ShapeRemoveByID,
		Batchable:       true,
		KeyColumn:       "deal_id",
	},
	"ticket_create": {
		Name:            "ticket_create",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/tickets/batch/create",
		RequiredColumns: []string{ColumnAssociationID, ColumnAssociationCategory, ColumnAssociationTypeID},
		Shape:           ShapeCreateWithAssociation,
		Batchable:       true,
	},
	"product_create": {
		Name:            "product_create",
		Method:          http.MethodPost,
		Path:            "crm/v3/objects/products/batch/create",
		RequiredColumns: []string{"name"},
		Shape:           ShapeCreateSimple,
		Batchable:       true,
		KeyColumn:       "name",
	},
}

// legacyNames maps identifiers used by older writer configurations.
var legacyNames = map[string]string{
	"create_contact":           "contact_create",
	"create_list":              "list_create",
	"add_contact_to_list":      "contact_add_to_list",
	"remove_contact_from_list": "contact_remove_from_list",
	"update_contact":           "contact_update",
	"update_contact_by_email":  "contact_update_by_email",
	"create_company":           "company_create",
	"update_company":           "company_update",
	"remove_company":           "company_remove",
}

// Lookup returns the operation registered under name.
// Unknown names fail with a configuration error wrapping exception.ErrUnknownOperation.
func Lookup(name string) (Operation, error) {
	op, ok := operations[name]
	if !ok {
		return Operation{}, exception.Configuration("endpoint",
			fmt.Sprintf("%q is not a valid endpoint", name), exception.ErrUnknownOperation)
	}
	return op, nil
}

// Resolve translates a legacy name, if any, and looks the operation up.
func Resolve(name string) (Operation, error) {
	if current, ok := legacyNames[name]; ok {
		name = current
	}
	return Lookup(name)
}

// Names returns all registered operation names, sorted.
func Names() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
