package session

import (
	"fmt"

	"securevpn/internal/model"
)

// Directory holds the known endpoints and the current selection.
type Directory struct {
	endpoints []model.Endpoint
	selected  model.Endpoint
	has       bool
}

// NewDirectory returns an empty directory with no selection.
func NewDirectory() *Directory {
	return &Directory{}
}

// Replace swaps in a freshly fetched endpoint list.
//
// The selection follows its id into the new list. If nothing was selected,
// the first endpoint is. If the selected endpoint disappeared, it is kept
// while locked and otherwise replaced by the first endpoint (or cleared when
// the list is empty).
func (d *Directory) Replace(endpoints []model.Endpoint, locked bool) {
	d.endpoints = append([]model.Endpoint(nil), endpoints...)

	if d.has {
		if ep, ok := d.Lookup(d.selected.ID); ok {
			d.selected = ep
			return
		}
		if locked {
			return
		}
	}
	d.fallback()
}

// Release re-checks the selection after the lock is lifted. A selection
// that vanished from the list while locked falls back to the first
// endpoint, or is cleared when the list is empty.
func (d *Directory) Release() {
	if d.has {
		if _, ok := d.Lookup(d.selected.ID); ok {
			return
		}
	}
	d.fallback()
}

func (d *Directory) fallback() {
	d.selected = model.Endpoint{}
	d.has = false
	if len(d.endpoints) > 0 {
		d.selected = d.endpoints[0]
		d.has = true
	}
}

// Select changes the selection. It fails with ErrSelectionRejected while
// locked or when id is not in the current list.
func (d *Directory) Select(id string, locked bool) error {
	if locked {
		return fmt.Errorf("%w: session in progress", ErrSelectionRejected)
	}
	ep, ok := d.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown endpoint %q", ErrSelectionRejected, id)
	}
	d.selected = ep
	d.has = true
	return nil
}

// Lookup finds an endpoint by id in the current list.
func (d *Directory) Lookup(id string) (model.Endpoint, bool) {
	for _, ep := range d.endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return model.Endpoint{}, false
}

// Endpoints returns a copy of the current list in directory order.
func (d *Directory) Endpoints() []model.Endpoint {
	return append([]model.Endpoint(nil), d.endpoints...)
}

// Selected returns the selected endpoint, if any.
func (d *Directory) Selected() (model.Endpoint, bool) {
	return d.selected, d.has
}
