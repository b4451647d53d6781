package ingest

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
)

const transformModule = "transform"

// Transformer converts input rows into the request bodies of one operation.
// It is pure: no I/O, no state between calls.
type Transformer struct {
	op endpoint.Operation
	// preferEmail flips the list-membership identifier priority so that a
	// non-empty email wins over a vid on the same row.
	preferEmail bool
}

// NewTransformer creates a transformer bound to op.
func NewTransformer(op endpoint.Operation, preferEmail bool) *Transformer {
	return &Transformer{op: op, preferEmail: preferEmail}
}

// Operation returns the operation the transformer is bound to.
func (t *Transformer) Operation() endpoint.Operation {
	return t.op
}

// CheckColumns verifies that every required column of op is declared.
// All missing columns are reported in a single validation error.
func CheckColumns(op endpoint.Operation, columns []string) error {
	declared := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		declared[c] = struct{}{}
	}

	var missing *multierror.Error
	for _, req := range op.RequiredColumns {
		if _, ok := declared[req]; !ok {
			missing = multierror.Append(missing, fmt.Errorf("column [%s] is missing", req))
		}
	}
	if missing == nil {
		return nil
	}
	return exception.New(exception.KindValidation, transformModule,
		fmt.Sprintf("input for %s does not satisfy its column contract", op.Name), missing.ErrorOrNil())
}

// Batch transforms rows into one {"inputs": [...]} payload.
func (t *Transformer) Batch(rows []Row) (Payload, error) {
	inputs := make([]Input, 0, len(rows))
	for i, row := range rows {
		in, err := t.input(row)
		if err != nil {
			return Payload{}, fmt.Errorf("batch item %d: %w", i+1, err)
		}
		inputs = append(inputs, in)
	}
	return Payload{Body: BatchBody{Inputs: inputs}, Rows: len(rows)}, nil
}

// Single transforms one row into a payload for a non-batch endpoint.
func (t *Transformer) Single(row Row) (Payload, error) {
	params, err := t.pathParams(row)
	if err != nil {
		return Payload{}, err
	}

	switch t.op.Shape {
	case endpoint.ShapeCreateSimple:
		if _, err := t.require(row, t.op.KeyColumn); err != nil {
			return Payload{}, err
		}
		return Payload{Params: params, Body: t.propertyBody(row), Rows: 1}, nil

	case endpoint.ShapeUpdateByID:
		if _, err := t.require(row, t.op.KeyColumn); err != nil {
			return Payload{}, err
		}
		return Payload{Params: params, Body: t.propertyBody(row, t.op.KeyColumn), Rows: 1}, nil

	case endpoint.ShapeCreateWithAssociation:
		in, err := t.associationInput(row)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Params: params, Body: in, Rows: 1}, nil

	case endpoint.ShapeListCreate:
		name, err := t.require(row, t.op.KeyColumn)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Params: params, Body: ListCreateBody{Name: name}, Rows: 1}, nil

	default:
		return Payload{}, exception.Configuration(transformModule,
			fmt.Sprintf("%s rows cannot be sent one by one", t.op.Shape), nil)
	}
}

// Groups collapses list-membership rows into one payload per list id.
// Every row is checked before any payload is returned, so an empty list id
// anywhere in the input fails the whole run before a request is sent.
func (t *Transformer) Groups(rows []Row) ([]Payload, error) {
	key := t.op.KeyColumn
	var order []string
	groups := make(map[string][]Row)

	for _, row := range rows {
		id := row.Value(key)
		if id == "" {
			return nil, exception.Validation(transformModule, "column [%s] cannot be empty", key)
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], row)
	}

	acceptsEmails := false
	for _, c := range t.op.RequiredColumns {
		if c == endpoint.ColumnEmails {
			acceptsEmails = true
		}
	}

	payloads := make([]Payload, 0, len(order))
	for _, id := range order {
		members := groups[id]
		params := map[string]string{key: id}

		if !acceptsEmails {
			vids := make([]string, 0, len(members))
			for _, row := range members {
				vid := row.Value(endpoint.ColumnVids)
				if vid == "" {
					return nil, exception.Validation(transformModule,
						"cannot process list %s with empty records in [%s] column", id, endpoint.ColumnVids)
				}
				vids = append(vids, vid)
			}
			payloads = append(payloads, Payload{Params: params, Body: ListRemoveBody{Vids: vids}, Rows: len(members)})
			continue
		}

		body := ListAddBody{Vids: []string{}, Emails: []string{}}
		for _, row := range members {
			vid := row.Value(endpoint.ColumnVids)
			email := row.Value(endpoint.ColumnEmails)
			switch {
			case t.preferEmail && email != "":
				body.Emails = append(body.Emails, email)
			case vid != "":
				body.Vids = append(body.Vids, vid)
			case email != "":
				body.Emails = append(body.Emails, email)
			default:
				return nil, exception.Validation(transformModule,
					"cannot process list %s: row has neither [%s] nor [%s]", id, endpoint.ColumnVids, endpoint.ColumnEmails)
			}
		}
		payloads = append(payloads, Payload{Params: params, Body: body, Rows: len(members)})
	}
	return payloads, nil
}

// UniqueIDs returns the distinct key values of rows in first-seen order.
func (t *Transformer) UniqueIDs(rows []Row) ([]string, error) {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id, err := t.require(row, t.op.KeyColumn)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove builds the individual DELETE payload for one id.
func (t *Transformer) Remove(id string) Payload {
	params := make(map[string]string, len(t.op.PathColumns))
	for _, c := range t.op.PathColumns {
		params[c] = id
	}
	return Payload{Params: params, Rows: 1}
}

// Archive builds one batch archive payload for ids.
func (t *Transformer) Archive(ids []string) Payload {
	inputs := make([]Input, len(ids))
	for i, id := range ids {
		inputs[i] = Input{ID: id}
	}
	return Payload{Body: BatchBody{Inputs: inputs}, Rows: len(ids)}
}

func (t *Transformer) input(row Row) (Input, error) {
	switch t.op.Shape {
	case endpoint.ShapeCreateSimple:
		if t.op.KeyColumn != "" {
			if _, err := t.require(row, t.op.KeyColumn); err != nil {
				return Input{}, err
			}
		}
		return Input{Properties: properties(row)}, nil

	case endpoint.ShapeUpdateByID:
		id, err := t.require(row, t.op.KeyColumn)
		if err != nil {
			return Input{}, err
		}
		return Input{ID: id, Properties: properties(row, t.op.KeyColumn)}, nil

	case endpoint.ShapeCreateWithAssociation:
		return t.associationInput(row)

	case endpoint.ShapeRemoveByID:
		id, err := t.require(row, t.op.KeyColumn)
		if err != nil {
			return Input{}, err
		}
		return Input{ID: id}, nil

	default:
		return Input{}, exception.Configuration(transformModule,
			fmt.Sprintf("%s rows cannot be batched", t.op.Shape), nil)
	}
}

func (t *Transformer) associationInput(row Row) (Input, error) {
	id, err := t.require(row, endpoint.ColumnAssociationID)
	if err != nil {
		return Input{}, err
	}
	category, err := t.require(row, endpoint.ColumnAssociationCategory)
	if err != nil {
		return Input{}, err
	}
	typeID, err := t.require(row, endpoint.ColumnAssociationTypeID)
	if err != nil {
		return Input{}, err
	}

	return Input{
		Associations: []Association{{
			To:    AssociationTarget{ID: id},
			Types: []AssociationType{{Category: category, TypeID: typeID}},
		}},
		Properties: properties(row,
			endpoint.ColumnAssociationID, endpoint.ColumnAssociationCategory, endpoint.ColumnAssociationTypeID),
	}, nil
}

// propertyBody renders a singular body in the operation's property style.
// Path columns are always excluded.
func (t *Transformer) propertyBody(row Row, exclude ...string) interface{} {
	exclude = append(exclude, t.op.PathColumns...)

	if t.op.PropertyStyle == endpoint.PropertyMap {
		return SingleBody{Properties: properties(row, exclude...)}
	}

	list := make([]PropertyValue, 0, len(row))
	for _, f := range row {
		if contains(exclude, f.Column) {
			continue
		}
		pv := PropertyValue{Value: f.Value}
		if t.op.PropertyStyle == endpoint.PropertyListByName {
			pv.Name = f.Column
		} else {
			pv.Property = f.Column
		}
		list = append(list, pv)
	}
	return PropertyListBody{Properties: list}
}

func (t *Transformer) pathParams(row Row) (map[string]string, error) {
	if len(t.op.PathColumns) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(t.op.PathColumns))
	for _, c := range t.op.PathColumns {
		v, err := t.require(row, c)
		if err != nil {
			return nil, err
		}
		params[c] = v
	}
	return params, nil
}

func (t *Transformer) require(row Row, column string) (string, error) {
	if column == "" {
		return "", nil
	}
	v := row.Value(column)
	if v == "" {
		return "", exception.Validation(transformModule, "cannot process rows with empty records in [%s] column", column)
	}
	return v, nil
}

func properties(row Row, exclude ...string) Properties {
	props := make(Properties, len(row))
	for _, f := range row {
		if contains(exclude, f.Column) {
			continue
		}
		props[f.Column] = f.Value
	}
	return props
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
