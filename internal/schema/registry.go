package schema

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// ScaleSpec defines scaling for the numeric fields of a symbol.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale" yaml:"priceScale"`
	QuantityScale Scale `json:"quantityScale" yaml:"quantityScale"`
}

// Price converts a decimal price into the scaled representation.
func (s ScaleSpec) Price(d decimal.Decimal) Price {
	return Price(d.Shift(int32(s.PriceScale)).Round(0).IntPart())
}

// Quantity converts a decimal quantity into the scaled representation.
func (s ScaleSpec) Quantity(d decimal.Decimal) Quantity {
	return Quantity(d.Shift(int32(s.QuantityScale)).Round(0).IntPart())
}

// PriceDecimal converts a scaled price back to a decimal.
func (s ScaleSpec) PriceDecimal(p Price) decimal.Decimal {
	return decimal.New(int64(p), -int32(s.PriceScale))
}

// QuantityDecimal converts a scaled quantity back to a decimal.
func (s ScaleSpec) QuantityDecimal(q Quantity) decimal.Decimal {
	return decimal.New(int64(q), -int32(s.QuantityScale))
}

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Venue describes a broker.
type Venue struct {
	ID   VenueID
	Name string
}

// Symbol describes a tradable instrument.
type Symbol struct {
	ID          SymbolID
	VenueID     VenueID
	Name        string
	Scale       ScaleSpec
	MinimumTick Price
}

// Registry stores venue and symbol mappings in a compact form.
type Registry struct {
	venues       []Venue
	symbols      []Symbol
	venueByName  map[string]VenueID
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:  make(map[string]VenueID),
		symbolByName: make(map[string]SymbolID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	if name == "" {
		return 0, errors.New("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, errors.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(name string, venueID VenueID, scale ScaleSpec, minimumTick Price) (SymbolID, error) {
	if name == "" {
		return 0, errors.New("symbol name is empty")
	}
	if _, ok := r.Venue(venueID); !ok {
		return 0, errors.Errorf("venue id not found: %d", venueID)
	}
	if minimumTick <= 0 {
		return 0, errors.Errorf("minimum tick must be > 0 for %s", name)
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, errors.Errorf("symbol already exists: %s", name)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:          id,
		VenueID:     venueID,
		Name:        name,
		Scale:       scale,
		MinimumTick: minimumTick,
	})
	r.symbolByName[name] = id
	return id, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolByName returns the symbol registered under name.
func (r *Registry) SymbolByName(name string) (Symbol, bool) {
	id, ok := r.symbolByName[name]
	if !ok {
		return Symbol{}, false
	}
	return r.Symbol(id)
}

// Symbols returns all symbols in registration order.
func (r *Registry) Symbols() []Symbol {
	out := make([]Symbol, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}
