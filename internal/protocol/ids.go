package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Protocol object spaces and types used by the bridge
const (
	ProtocolSpace uint8 = 1

	LimitOrderObjectType       uint8 = 7
	CallOrderObjectType        uint8 = 8
	AccountObjectType          uint8 = 2
	AssetObjectType            uint8 = 3
	OperationHistoryObjectType uint8 = 11
	BalanceObjectType          uint8 = 15
)

// ObjectID is a graphene object identifier in the form space.type.instance
type ObjectID struct {
	Space    uint8
	Type     uint8
	Instance uint64
}

// AccountID returns the object id of the account with the given instance
func AccountID(instance uint64) ObjectID {
	return ObjectID{Space: ProtocolSpace, Type: AccountObjectType, Instance: instance}
}

// AssetID returns the object id of the asset with the given instance
func AssetID(instance uint64) ObjectID {
	return ObjectID{Space: ProtocolSpace, Type: AssetObjectType, Instance: instance}
}

// OperationHistoryID returns the object id of an operation history entry
func OperationHistoryID(instance uint64) ObjectID {
	return ObjectID{Space: ProtocolSpace, Type: OperationHistoryObjectType, Instance: instance}
}

// LimitOrderID returns the object id of a limit order
func LimitOrderID(instance uint64) ObjectID {
	return ObjectID{Space: ProtocolSpace, Type: LimitOrderObjectType, Instance: instance}
}

// ParseObjectID parses an id like "1.2.17"
func ParseObjectID(s string) (ObjectID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return ObjectID{}, fmt.Errorf("invalid object id %q: expected space.type.instance", s)
	}
	space, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return ObjectID{}, fmt.Errorf("invalid space in object id %q: %w", s, err)
	}
	typ, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return ObjectID{}, fmt.Errorf("invalid type in object id %q: %w", s, err)
	}
	instance, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return ObjectID{}, fmt.Errorf("invalid instance in object id %q: %w", s, err)
	}
	return ObjectID{Space: uint8(space), Type: uint8(typ), Instance: instance}, nil
}

// String renders the dotted form
func (id ObjectID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Space, id.Type, id.Instance)
}

// IsZero reports whether the id is the zero value
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// Is reports whether the id belongs to the given protocol object type
func (id ObjectID) Is(objectType uint8) bool {
	return id.Space == ProtocolSpace && id.Type == objectType
}

// MarshalJSON encodes the id as its dotted string
func (id ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a dotted string id
func (id *ObjectID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("object id must be a string: %w", err)
	}
	parsed, err := ParseObjectID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
