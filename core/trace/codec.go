package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Dataset is the on-disk layout of a captured or simulated trace.
type Dataset struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Data     Trace          `json:"data"`
}

type timestamp struct {
	Sec int64 `json:"sec"`
	Ns  int64 `json:"ns"`
}

func fromTime(t time.Time) timestamp {
	return timestamp{Sec: t.Unix(), Ns: int64(t.Nanosecond())}
}

func (ts timestamp) time() time.Time {
	return time.Unix(ts.Sec, ts.Ns).UTC()
}

// SyncPeriod returns the nominal Sync period in seconds recorded in the
// dataset metadata.
func (d *Dataset) SyncPeriod() (float64, bool) {
	v, ok := d.Metadata["sync_period"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok && f > 0
}

func isEstimateKey(k string) bool {
	return strings.HasPrefix(k, "x_") || strings.HasPrefix(k, "y_")
}

func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8+len(r.est))
	for k, v := range r.est {
		m[k] = v
	}
	m["idx"] = r.Idx
	m["t1"] = fromTime(r.T1)
	m["t2"] = fromTime(r.T2)
	m["t3"] = fromTime(r.T3)
	m["t4"] = fromTime(r.T4)
	m["x_est"] = r.XEst
	m["d_est"] = r.DEst
	if r.X != nil {
		m["x"] = *r.X
	}
	if r.Drift != nil {
		m["drift"] = *r.Drift
	}
	return json.Marshal(m)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*r = Record{}
	for k, raw := range m {
		var err error
		switch k {
		case "idx":
			err = json.Unmarshal(raw, &r.Idx)
		case "t1", "t2", "t3", "t4":
			var ts timestamp
			err = json.Unmarshal(raw, &ts)
			switch k {
			case "t1":
				r.T1 = ts.time()
			case "t2":
				r.T2 = ts.time()
			case "t3":
				r.T3 = ts.time()
			case "t4":
				r.T4 = ts.time()
			}
		case "x_est":
			err = json.Unmarshal(raw, &r.XEst)
		case "d_est":
			err = json.Unmarshal(raw, &r.DEst)
		case "x":
			// null leaves the pointer nil
			err = json.Unmarshal(raw, &r.X)
		case "drift":
			err = json.Unmarshal(raw, &r.Drift)
		default:
			if !isEstimateKey(k) {
				continue
			}
			var v *float64
			if json.Unmarshal(raw, &v) != nil || v == nil {
				continue
			}
			r.SetEstimate(k, *v)
		}
		if err != nil {
			return fmt.Errorf("failed to decode field %q: %w", k, err)
		}
	}
	return nil
}

// ReadJSON decodes a dataset document, or a bare array of records.
func ReadJSON(r io.Reader) (*Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	var d Dataset
	if len(raw) != 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &d.Data)
	} else {
		err = json.Unmarshal(raw, &d)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func WriteJSON(w io.Writer, d *Dataset) error {
	return json.NewEncoder(w).Encode(d)
}

func ReadFile(name string) (*Dataset, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

func WriteFile(name string, d *Dataset) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	err = WriteJSON(f, d)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
