package convo

import "encoding/json"

// PersonID identifies a recognized individual. Absence of a recognized
// person is explicit via Known, never an empty-string sentinel.
type PersonID struct {
	Value string
	Known bool
}

func Person(id string) PersonID {
	if id == "" {
		return PersonID{}
	}
	return PersonID{Value: id, Known: true}
}

func Nobody() PersonID { return PersonID{} }

func (p PersonID) Equal(o PersonID) bool {
	return p.Known == o.Known && p.Value == o.Value
}

func (p PersonID) String() string {
	if !p.Known {
		return "unknown"
	}
	return p.Value
}

// key is the registry map key; unknown conversations share a single slot.
func (p PersonID) key() string {
	if !p.Known {
		return "\x00nobody"
	}
	return p.Value
}

func (p PersonID) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

func (p *PersonID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = PersonID{}
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Person(v)
	return nil
}
