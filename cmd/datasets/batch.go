package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"datasets/internal/datasource"
	"datasets/internal/datasource/file"
	"datasets/internal/datasource/httpds"
	"datasets/internal/ingest"
)

type namedSource interface {
	datasource.Source
	Name() string
}

type batchResult struct {
	Entry     string `json:"entry"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	TotalRows int    `json:"total_rows"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// ingestList ingests each manifest entry in order and writes one JSON result
// line per entry to out. A failed entry does not stop the batch; the error
// reports how many failed.
func ingestList(ctx context.Context, svc *ingest.Service, manifest string, maxBytes int64, client *httpds.Client, out io.Writer) error {
	entries, err := file.ReadList(manifest)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	log := zerolog.Ctx(ctx)
	enc := json.NewEncoder(out)
	failed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		var src namedSource
		if strings.Contains(entry, "://") {
			src = httpds.NewSource(client, entry)
		} else {
			src = file.NewLocal(entry)
		}
		name := strings.TrimSuffix(src.Name(), filepath.Ext(src.Name()))
		res := batchResult{Entry: entry, Name: name}

		data, err := datasource.ReadAll(ctx, src, maxBytes)
		if err == nil {
			ds, ierr := svc.Ingest(ctx, ingest.Upload{Data: data, Filename: src.Name(), Name: name, Source: entry})
			if ierr == nil {
				res.ID, res.TotalRows = ds.ID, ds.TotalRows
			}
			err = ierr
		}
		if err != nil {
			failed++
			res.Error, res.Kind = err.Error(), ingest.Kind(err)
			log.Error().Err(err).Str("entry", entry).Msg("batch entry failed")
		}
		if werr := enc.Encode(res); werr != nil {
			return werr
		}
	}
	log.Info().Int("entries", len(entries)).Int("failed", failed).Msg("batch ingest done")
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed", failed, len(entries))
	}
	return nil
}
