package mysideline

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// searchResponse is the intercepted registration search payload. Items are
// decoded one by one so a malformed entry only drops itself.
type searchResponse struct {
	Data []json.RawMessage `json:"data"`
}

// apiItem is one entry of the search payload. Every field tolerates absent,
// null or wrongly typed values.
type apiItem struct {
	ID            text       `json:"_id" validate:"required"`
	Name          text       `json:"name" validate:"required"`
	AgeLvl        text       `json:"ageLvl"`
	RegoOpen      any        `json:"regoOpen"`
	Orgtree       apiOrgtree `json:"orgtree"`
	Association   named      `json:"association"`
	Competition   named      `json:"competition"`
	Club          named      `json:"club"`
	Venue         apiVenue   `json:"venue"`
	Contact       apiContact `json:"contact"`
	Meta          apiMeta    `json:"meta"`
	FinderDetails apiFinder  `json:"finderDetails"`
}

type apiOrgtree struct {
	Region named `json:"region"`
	Venue  named `json:"venue"`
}

func (o *apiOrgtree) UnmarshalJSON(b []byte) error {
	type plain apiOrgtree
	return decodeObject(b, (*plain)(o))
}

type named struct {
	Name text `json:"name"`
}

func (n *named) UnmarshalJSON(b []byte) error {
	type plain named
	return decodeObject(b, (*plain)(n))
}

type apiVenue struct {
	Name    text        `json:"name"`
	Address *rawAddress `json:"address"`
}

func (v *apiVenue) UnmarshalJSON(b []byte) error {
	type plain apiVenue
	return decodeObject(b, (*plain)(v))
}

type apiContact struct {
	Name    text        `json:"name"`
	Number  text        `json:"number"`
	Email   text        `json:"email"`
	Address *rawAddress `json:"address"`
}

func (c *apiContact) UnmarshalJSON(b []byte) error {
	type plain apiContact
	return decodeObject(b, (*plain)(c))
}

type apiMeta struct {
	Website  text `json:"website"`
	Facebook text `json:"facebook"`
}

func (m *apiMeta) UnmarshalJSON(b []byte) error {
	type plain apiMeta
	return decodeObject(b, (*plain)(m))
}

type apiFinder struct {
	Description text `json:"description"`
}

func (f *apiFinder) UnmarshalJSON(b []byte) error {
	type plain apiFinder
	return decodeObject(b, (*plain)(f))
}

// rawAddress is the venue or contact address sub-record.
type rawAddress struct {
	AddressLine1 text  `json:"addressLine1"`
	AddressLine2 text  `json:"addressLine2"`
	Formatted    text  `json:"formatted"`
	State        text  `json:"state"`
	Suburb       text  `json:"suburb"`
	Postcode     text  `json:"postcode"`
	Country      text  `json:"country"`
	Lat          coord `json:"lat"`
	Lng          coord `json:"lng"`
}

func (a *rawAddress) UnmarshalJSON(b []byte) error {
	type plain rawAddress
	return decodeObject(b, (*plain)(a))
}

// decodeObject decodes b into v when b is a JSON object and leaves v zero
// for any other JSON value.
func decodeObject(b []byte, v any) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	return json.Unmarshal(b, v)
}

// text is a string that also accepts numbers and booleans and degrades
// objects, arrays and null to "".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	case '{', '[', 'n':
		*t = ""
	default:
		*t = text(b)
	}
	return nil
}

func (t text) String() string {
	return string(t)
}

// coord is a latitude or longitude supplied either as a number or as a
// numeric string.
type coord struct {
	value *float64
}

func (c *coord) UnmarshalJSON(b []byte) error {
	var t text
	if err := t.UnmarshalJSON(b); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(string(t), 64); err == nil {
		c.value = &f
	}
	return nil
}

// truthy mirrors loose boolean coercion of a decoded JSON value.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	default:
		return true
	}
}
