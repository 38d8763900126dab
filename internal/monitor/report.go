package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Summary describes the request volume and latency of one key, in seconds
// rounded to three decimals.
type Summary struct {
	Key   string  `json:"-"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Report is a ranked top-N usage summary. When no records exist, Entries is
// empty and Message explains why.
type Report struct {
	Entries []Summary
	Message string
}

// Empty reports whether the report carries no usage data.
func (r Report) Empty() bool { return len(r.Entries) == 0 }

func emptyReport(window time.Duration) Report {
	return Report{
		Message: fmt.Sprintf("service has no classify-image requests within %ds", int64(window/time.Second)),
	}
}

// MarshalJSON encodes the report as an object keyed by request key, with keys
// emitted in rank order, or as {"message": ...} when empty.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Empty() {
		return json.Marshal(map[string]string{"message": r.Message})
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range r.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(s.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
