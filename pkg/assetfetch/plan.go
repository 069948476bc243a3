// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"context"
)

// PlanItem describes what a fetch would do for one descriptor.
type PlanItem struct {
	AssetDescriptor
	Remote RemoteSizeHint `json:"remote"`
	// Local is the verdict on the current on-disk file.
	Local ValidationVerdict `json:"-"`
	// Valid and Reason mirror Local for JSON output.
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
	// Download is true when a transfer would be attempted.
	Download bool `json:"download"`
	// Blocked is true when the descriptor needs a token that was not given.
	Blocked bool `json:"blocked,omitempty"`
}

// Plan is the dry-run view of an asset set.
type Plan struct {
	Set   string     `json:"set"`
	Items []PlanItem `json:"items"`
}

// Pending returns the number of items that would be downloaded.
func (p *Plan) Pending() int {
	n := 0
	for _, it := range p.Items {
		if it.Download {
			n++
		}
	}
	return n
}

// PlanSet probes and inspects every descriptor of the named set without
// transferring or deleting anything. Descriptors that need a missing token
// are not probed; they are reported as blocked.
func (f *Fetcher) PlanSet(ctx context.Context, name, token string) (*Plan, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	set, err := f.catalog.Lookup(name)
	if err != nil {
		return nil, err
	}

	p := &Plan{Set: set.Name, Items: make([]PlanItem, 0, len(set.Descriptors))}
	for _, d := range set.Descriptors {
		it := PlanItem{AssetDescriptor: d}
		if d.RequiresAuth && token == "" {
			it.Blocked = true
			it.Local = Inspect(d.DestinationPath, UnknownSize)
		} else {
			it.Remote = f.oracle.Probe(ctx, d.SourceURL, d.RequiresAuth, token)
			it.Local = Inspect(d.DestinationPath, it.Remote)
		}
		it.Valid = it.Local.Valid
		it.Reason = it.Local.Reason
		it.Download = !it.Local.Valid
		p.Items = append(p.Items, it)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return p, nil
}
