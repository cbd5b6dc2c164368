package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/jsontime"
)

// exportRecord is one identity in the interchange format. Descriptors
// carry the stored vectors verbatim; registeredAt is epoch milliseconds.
// meanDescriptor is null for identities that never had one.
type exportRecord struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Descriptors    []faceid.Embedding `json:"descriptors"`
	MeanDescriptor faceid.Embedding   `json:"meanDescriptor"`
	RegisteredAt   int64              `json:"registeredAt"`
}

// identity validates a decoded record and converts it. Rules: non-empty
// id, at least one descriptor, every vector (mean included) the same
// length. CaptureCount is derived; the format does not carry it.
func (r *exportRecord) identity() (*faceid.Identity, error) {
	if r.ID == "" {
		return nil, errors.New("empty id")
	}
	if len(r.Descriptors) == 0 {
		return nil, errors.New("no descriptors")
	}
	dim := len(r.Descriptors[0])
	for i, d := range r.Descriptors {
		if len(d) != dim {
			return nil, fmt.Errorf("descriptor %d has length %d, want %d", i, len(d), dim)
		}
	}
	if r.MeanDescriptor != nil && len(r.MeanDescriptor) != dim {
		return nil, fmt.Errorf("mean descriptor has length %d, want %d", len(r.MeanDescriptor), dim)
	}
	return &faceid.Identity{
		ID:            r.ID,
		Name:          r.Name,
		Embeddings:    r.Descriptors,
		MeanEmbedding: r.MeanDescriptor,
		CaptureCount:  len(r.Descriptors),
		RegisteredAt:  jsontime.Milli(time.UnixMilli(r.RegisteredAt)),
	}, nil
}

// Export writes identities to w as an indented JSON array, one record per
// identity, input order preserved. Vector values survive a round-trip
// exactly: encoding/json prints the shortest decimal that parses back to
// the same float32.
func Export(ctx context.Context, w io.Writer, identities []*faceid.Identity) error {
	recs := make([]exportRecord, 0, len(identities))
	for _, ident := range identities {
		if ident == nil {
			continue
		}
		recs = append(recs, exportRecord{
			ID:             ident.ID,
			Name:           ident.Name,
			Descriptors:    ident.Embeddings,
			MeanDescriptor: ident.MeanEmbedding,
			RegisteredAt:   ident.RegisteredAt.Time().UnixMilli(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("gallery: export: %w", err)
	}
	return nil
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Repair attempts to fix malformed JSON (trailing commas, comments,
	// single quotes) before giving up on a syntax error.
	Repair bool

	// Progress, when set, is called after each record is written.
	Progress func(done, total int)
}

// Import reads an interchange document from r and writes each record to
// store. The document is schema-checked as a whole, then records are
// validated and written one at a time. The first failing record aborts
// the import; records already written stay written. Returns the number of
// identities written.
func Import(ctx context.Context, r io.Reader, store Store, opts ImportOptions) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("gallery: import: read: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		_, syntax := err.(*json.SyntaxError)
		if !opts.Repair || !syntax {
			return 0, fmt.Errorf("gallery: import: decode: %w", err)
		}
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return 0, fmt.Errorf("gallery: import: repair: %w", rerr)
		}
		data = []byte(fixed)
		if err := json.Unmarshal(data, &doc); err != nil {
			return 0, fmt.Errorf("gallery: import: decode repaired: %w", err)
		}
	}

	resolved, err := importSchema()
	if err != nil {
		return 0, fmt.Errorf("gallery: import: schema: %w", err)
	}
	if err := resolved.Validate(doc); err != nil {
		return 0, fmt.Errorf("gallery: import: invalid document: %w", err)
	}

	var recs []exportRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return 0, fmt.Errorf("gallery: import: decode: %w", err)
	}

	written := 0
	for i := range recs {
		ident, err := recs[i].identity()
		if err != nil {
			return written, fmt.Errorf("gallery: import: record %d: %w", i, err)
		}
		if err := store.SaveIdentity(ctx, ident); err != nil {
			return written, fmt.Errorf("gallery: import: record %d (%s): %w", i, recs[i].ID, err)
		}
		written++
		if opts.Progress != nil {
			opts.Progress(written, len(recs))
		}
	}
	return written, nil
}

// importSchema generates and resolves the interchange document schema.
// meanDescriptor is patched nullable since Export writes null for
// identities without a mean.
func importSchema() (*jsonschema.Resolved, error) {
	s, err := jsonschema.For[[]exportRecord](nil)
	if err != nil {
		return nil, err
	}
	if rec := s.Items; rec != nil {
		if md, ok := rec.Properties["meanDescriptor"]; ok && (md.Type != "" || len(md.Types) > 0) {
			if md.Type != "" {
				md.Types = append(md.Types, md.Type)
				md.Type = ""
			}
			if !slices.Contains(md.Types, "null") {
				md.Types = append(md.Types, "null")
			}
		}
	}
	return s.Resolve(nil)
}
