// Package csvfile reads courier contracts exported as CSV by the corporation
// contract exporter (one row per outstanding contract).
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"freightalloc/internal/capacity"
	"freightalloc/internal/integrations"
	"freightalloc/internal/model"
)

// Adapter reads a CSV file from disk.
type Adapter struct {
	Path string
	Hubs capacity.Hubs
}

func (a Adapter) Name() string { return "csv-file" }

func (a Adapter) FetchContracts(ctx context.Context) (integrations.ContractBatch, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return integrations.ContractBatch{}, fmt.Errorf("csv source: %w", err)
	}
	defer f.Close()
	return Parse(ctx, f, a.Hubs)
}

var _ integrations.ContractSource = Adapter{}

// Column aliases: exporter name first, short name second.
var columns = map[string][]string{
	"id":          {"contract_id", "id"},
	"issuer":      {"issuer_name", "issuer"},
	"origin":      {"start_location_name", "origin"},
	"destination": {"end_location_name", "destination"},
	"originLoc":   {"start_location_id", "origin_location_id"},
	"destLoc":     {"end_location_id", "dest_location_id"},
	"endSystem":   {"end_system_id"},
	"volume":      {"volume"},
	"reward":      {"reward"},
	"distance":    {"lightyears", "distance_ly"},
	"direction":   {"direction"},
	"startX":      {"start_x"},
	"startY":      {"start_y"},
	"startZ":      {"start_z"},
	"endX":        {"end_x"},
	"endY":        {"end_y"},
	"endZ":        {"end_z"},
}

var required = []string{"id", "volume", "reward"}

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("csv: missing required column")

// Parse reads every row. Rows that cannot become a contract are returned in
// Rejected with their 1-based line number; only a broken header or reader is
// an error.
func Parse(ctx context.Context, r io.Reader, hubs capacity.Hubs) (integrations.ContractBatch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return integrations.ContractBatch{}, fmt.Errorf("csv: read header: %w", err)
	}
	idx := indexHeader(header)
	for _, k := range required {
		if _, ok := idx[k]; !ok {
			return integrations.ContractBatch{}, fmt.Errorf("%w: %s", ErrMissingColumn, columns[k][0])
		}
	}
	_, hasDir := idx["direction"]
	_, hasEnd := idx["endSystem"]
	if !hasDir && !hasEnd {
		return integrations.ContractBatch{}, fmt.Errorf("%w: direction or end_system_id", ErrMissingColumn)
	}

	batch := integrations.ContractBatch{Contracts: []model.Contract{}}
	for {
		if err := ctx.Err(); err != nil {
			return integrations.ContractBatch{}, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				batch.Rejected = append(batch.Rejected, integrations.Rejected{Line: pe.Line, Reason: pe.Err.Error()})
				continue
			}
			return integrations.ContractBatch{}, fmt.Errorf("csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		row := record{idx: idx, rec: rec}
		c, reason := row.contract(hubs)
		if reason != "" {
			batch.Rejected = append(batch.Rejected, integrations.Rejected{Line: line, ContractID: row.get("id"), Reason: reason})
			continue
		}
		batch.Contracts = append(batch.Contracts, c)
	}
	return batch, nil
}

func indexHeader(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idx := map[string]int{}
	for key, names := range columns {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				idx[key] = i
				break
			}
		}
	}
	return idx
}

type record struct {
	idx map[string]int
	rec []string
}

func (r record) get(key string) string {
	i, ok := r.idx[key]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r record) number(key string) (float64, bool, error) {
	s := r.get(key)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return v, true, err
}

func (r record) intval(key string) (int64, error) {
	s := r.get(key)
	if s == "" {
		return 0, nil
	}
	// pandas writes integer columns with NaN gaps as floats ("30000142.0").
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), nil
	}
	return 0, fmt.Errorf("not an integer: %q", s)
}

func (r record) contract(hubs capacity.Hubs) (model.Contract, string) {
	c := model.Contract{
		ID:          r.get("id"),
		Issuer:      r.get("issuer"),
		Origin:      r.get("origin"),
		Destination: r.get("destination"),
	}
	if c.ID == "" {
		return c, "contract id is empty"
	}
	var err error
	var ok bool
	if c.Volume, ok, err = r.number("volume"); err != nil || !ok {
		return c, "volume is not a number"
	}
	if c.Reward, ok, err = r.number("reward"); err != nil || !ok {
		return c, "reward is not a number"
	}
	if c.OriginLocationID, err = r.intval("originLoc"); err != nil {
		return c, "start location: " + err.Error()
	}
	if c.DestLocationID, err = r.intval("destLoc"); err != nil {
		return c, "end location: " + err.Error()
	}

	if d, ok, err := r.number("distance"); err != nil {
		return c, "lightyears is not a number"
	} else if ok {
		c.DistanceLy = d
	} else if a, b, ok := r.positions(); ok {
		c.DistanceLy = integrations.LightYears(a, b)
	}

	if s := r.get("direction"); s != "" {
		dir, err := model.ParseDirection(s)
		if err != nil {
			return c, err.Error()
		}
		c.Direction = dir
		return c, ""
	}
	end, err := r.intval("endSystem")
	if err != nil {
		return c, "end system: " + err.Error()
	}
	dir, ok := integrations.ResolveDirection(hubs, end)
	if !ok {
		return c, fmt.Sprintf("unknown direction for end system %d", end)
	}
	c.Direction = dir
	return c, ""
}

func (r record) positions() (integrations.Position, integrations.Position, bool) {
	var v [6]float64
	for i, k := range []string{"startX", "startY", "startZ", "endX", "endY", "endZ"} {
		f, ok, err := r.number(k)
		if err != nil || !ok {
			return integrations.Position{}, integrations.Position{}, false
		}
		v[i] = f
	}
	return integrations.Position{X: v[0], Y: v[1], Z: v[2]}, integrations.Position{X: v[3], Y: v[4], Z: v[5]}, true
}
