// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
)

// reset clears all global state in the metric package.
func reset() {
	allMetrics = makeMetricSet()
}

func TestRegister(t *testing.T) {
	defer reset()

	if _, err := NewUint64Metric("/foo", "Foo!"); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := NewUint64Metric("/foo", "again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	if _, err := NewUint64Metric("bad name", "x"); !errors.Is(err, ErrInvalidMetricName) {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrInvalidMetricName)
	}
	if _, err := NewUint64Metric("/empty", "x", NewField("level", nil)); !errors.Is(err, ErrFieldHasNoAllowedValues) {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrFieldHasNoAllowedValues)
	}
	if _, err := NewUint64Metric("/illegal", "x", NewField("level", []string{"a b"})); !errors.Is(err, ErrFieldValueContainsIllegalChar) {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrFieldValueContainsIllegalChar)
	}
}

func TestFieldValues(t *testing.T) {
	defer reset()

	m := MustCreateNewUint64Metric("/tables", "Tables.",
		NewField("level", []string{"L1", "L2", "L3"}),
		NewField("op", []string{"alloc", "free"}))
	m.Increment("L2", "alloc")
	m.IncrementBy(4, "L3", "free")
	m.Increment("L3", "free")

	if got := m.Value("L2", "alloc"); got != 1 {
		t.Errorf("Value(L2, alloc) = %d, want 1", got)
	}
	if got := m.Value("L3", "free"); got != 5 {
		t.Errorf("Value(L3, free) = %d, want 5", got)
	}
	if got := m.Value("L1", "alloc"); got != 0 {
		t.Errorf("Value(L1, alloc) = %d, want 0", got)
	}
}

func TestFieldMapperRoundTrip(t *testing.T) {
	f, err := newFieldMapper(NewField("a", []string{"x", "y"}), NewField("b", []string{"p", "q", "r"}))
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	for key := 0; key < f.numKeys(); key++ {
		if got := f.lookup(f.keyToMultiField(key)...); got != key {
			t.Errorf("lookup(keyToMultiField(%d)) = %d", key, got)
		}
	}
}

func TestDisallowedValuePanics(t *testing.T) {
	defer reset()

	m := MustCreateNewUint64Metric("/panics", "x", NewField("level", []string{"L1"}))
	defer func() {
		if recover() == nil {
			t.Errorf("Increment with a disallowed value did not panic")
		}
	}()
	m.Increment("L9")
}

func TestWritePrometheus(t *testing.T) {
	defer reset()

	c := MustCreateNewUint64Metric("/pagetables/tables_allocated", "Tables allocated.", NewField("level", []string{"L1", "L2"}))
	c.IncrementBy(3, "L2")
	var gauge uint64 = 7
	MustRegisterCustomUint64Metric("/pmm/frames_in_use", false, "Frames in use.", func(...string) uint64 { return gauge })

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("TextToMetricFamilies: %v\n%s", err, buf.String())
	}

	got := map[string]float64{}
	for name, mf := range parsed {
		for _, m := range mf.GetMetric() {
			key := name
			for _, l := range m.GetLabel() {
				key += "{" + l.GetName() + "=" + l.GetValue() + "}"
			}
			if m.Counter != nil {
				got[key] = m.GetCounter().GetValue()
			} else {
				got[key] = m.GetGauge().GetValue()
			}
		}
	}
	want := map[string]float64{
		"artos_pagetables_tables_allocated{level=L1}": 0,
		"artos_pagetables_tables_allocated{level=L2}": 3,
		"artos_pmm_frames_in_use":                     7,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parsed metrics mismatch (-want +got):\n%s", diff)
	}
}
