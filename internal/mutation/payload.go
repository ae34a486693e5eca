package mutation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Payload is the entity-specific body of a record. Each entity type has
// exactly one payload shape; pointer fields let updates stay partial.
type Payload interface {
	EntityType() EntityType
	Validate(op Operation) error
}

// CategoryPayload creates or edits a category. ParentID may hold the
// idempotency key of a category that has not reached the server yet.
type CategoryPayload struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
}

func (p *CategoryPayload) EntityType() EntityType { return EntityCategories }

func (p *CategoryPayload) Validate(op Operation) error {
	return checkName(op, p.Name)
}

// LocationPayload creates or edits a storage location.
type LocationPayload struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
}

func (p *LocationPayload) EntityType() EntityType { return EntityLocations }

func (p *LocationPayload) Validate(op Operation) error {
	return checkName(op, p.Name)
}

// BorrowerPayload creates or edits a person who can borrow inventory.
type BorrowerPayload struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

func (p *BorrowerPayload) EntityType() EntityType { return EntityBorrowers }

func (p *BorrowerPayload) Validate(op Operation) error {
	if err := checkName(op, p.Name); err != nil {
		return err
	}
	if p.Email != nil && *p.Email != "" {
		if _, err := mail.ParseAddress(*p.Email); err != nil {
			return invalidf("email", "is not a valid address: %v", err)
		}
	}
	return nil
}

// ContainerPayload creates or edits a container placed at a location.
type ContainerPayload struct {
	Name        *string `json:"name,omitempty"`
	LocationID  *string `json:"location_id,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (p *ContainerPayload) EntityType() EntityType { return EntityContainers }

func (p *ContainerPayload) Validate(op Operation) error {
	if err := checkName(op, p.Name); err != nil {
		return err
	}
	return checkRef(op, "location_id", p.LocationID, true)
}

// ItemPayload creates or edits a catalogue item.
type ItemPayload struct {
	Name         *string `json:"name,omitempty"`
	CategoryID   *string `json:"category_id,omitempty"`
	Description  *string `json:"description,omitempty"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	ModelNumber  *string `json:"model_number,omitempty"`
}

func (p *ItemPayload) EntityType() EntityType { return EntityItems }

func (p *ItemPayload) Validate(op Operation) error {
	if err := checkName(op, p.Name); err != nil {
		return err
	}
	return checkRef(op, "category_id", p.CategoryID, false)
}

// InventoryPayload places a quantity of an item at a location.
type InventoryPayload struct {
	ItemID      *string `json:"item_id,omitempty"`
	LocationID  *string `json:"location_id,omitempty"`
	ContainerID *string `json:"container_id,omitempty"`
	Quantity    *int    `json:"quantity,omitempty"`
	Status      *string `json:"status,omitempty"`
}

func (p *InventoryPayload) EntityType() EntityType { return EntityInventory }

func (p *InventoryPayload) Validate(op Operation) error {
	if err := checkRef(op, "item_id", p.ItemID, true); err != nil {
		return err
	}
	if err := checkRef(op, "location_id", p.LocationID, true); err != nil {
		return err
	}
	if op == OpCreate && p.Quantity == nil {
		return invalidf("quantity", "is required")
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return invalidf("quantity", "must be zero or more (got %d)", *p.Quantity)
	}
	return nil
}

// LoanPayload lends inventory to a borrower.
type LoanPayload struct {
	InventoryID *string    `json:"inventory_id,omitempty"`
	BorrowerID  *string    `json:"borrower_id,omitempty"`
	Quantity    *int       `json:"quantity,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	Status      *string    `json:"status,omitempty"`
}

func (p *LoanPayload) EntityType() EntityType { return EntityLoans }

func (p *LoanPayload) Validate(op Operation) error {
	if err := checkRef(op, "inventory_id", p.InventoryID, true); err != nil {
		return err
	}
	if err := checkRef(op, "borrower_id", p.BorrowerID, true); err != nil {
		return err
	}
	if op == OpCreate && p.Quantity == nil {
		return invalidf("quantity", "is required")
	}
	if p.Quantity != nil && *p.Quantity <= 0 {
		return invalidf("quantity", "must be positive (got %d)", *p.Quantity)
	}
	return nil
}

func checkName(op Operation, name *string) error {
	if name == nil {
		if op == OpCreate {
			return invalidf("name", "is required")
		}
		return nil
	}
	if strings.TrimSpace(*name) == "" {
		return invalidf("name", "must not be blank")
	}
	if len(*name) > 255 {
		return invalidf("name", "must be 255 characters or less (got %d)", len(*name))
	}
	return nil
}

func checkRef(op Operation, field string, ref *string, required bool) error {
	if ref == nil {
		if required && op == OpCreate {
			return invalidf(field, "is required")
		}
		return nil
	}
	if strings.TrimSpace(*ref) == "" {
		return invalidf(field, "must not be blank")
	}
	return nil
}

// NewPayload returns an empty payload of the shape used by t.
func NewPayload(t EntityType) (Payload, error) {
	switch t {
	case EntityCategories:
		return &CategoryPayload{}, nil
	case EntityLocations:
		return &LocationPayload{}, nil
	case EntityBorrowers:
		return &BorrowerPayload{}, nil
	case EntityContainers:
		return &ContainerPayload{}, nil
	case EntityItems:
		return &ItemPayload{}, nil
	case EntityInventory:
		return &InventoryPayload{}, nil
	case EntityLoans:
		return &LoanPayload{}, nil
	}
	return nil, invalidf("entity_type", "unknown entity type %q", t)
}

// DecodePayload parses data into the payload shape selected by t. Unknown
// fields are rejected so that typos never reach the server silently.
func DecodePayload(t EntityType, data []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, invalidf("payload", "does not match %s shape: %v", t, err)
	}
	return p, nil
}

// PayloadFields flattens p into a field map keyed by wire names. Values have
// JSON types (string, float64, bool), matching what the server returns.
func PayloadFields(p Payload) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten payload: %w", err)
	}
	return fields, nil
}

// PayloadFromFields rebuilds a typed payload from a field map, e.g. after a
// manual merge of local and server values.
func PayloadFromFields(t EntityType, fields map[string]any) (Payload, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return DecodePayload(t, data)
}
