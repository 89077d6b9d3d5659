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
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Namespace prefixes every exported metric name.
const Namespace = "artos"

// PrometheusName converts a metric name such as "/pmm/frames_in_use" into
// the exported name "artos_pmm_frames_in_use".
func PrometheusName(name string) string {
	return Namespace + strings.ReplaceAll(name, "/", "_")
}

// toMetricFamily converts a snapshot into its exposition form.
func (s Snapshot) toMetricFamily() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(PrometheusName(s.Name)),
		Help: proto.String(s.Description),
	}
	if s.Cumulative {
		mf.Type = dto.MetricType_COUNTER.Enum()
	} else {
		mf.Type = dto.MetricType_GAUGE.Enum()
	}
	for _, sample := range s.Samples {
		m := &dto.Metric{}
		names := make([]string, 0, len(sample.Fields))
		for name := range sample.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m.Label = append(m.Label, &dto.LabelPair{
				Name:  proto.String(name),
				Value: proto.String(sample.Fields[name]),
			})
		}
		v := proto.Float64(float64(sample.Value))
		if s.Cumulative {
			m.Counter = &dto.Counter{Value: v}
		} else {
			m.Gauge = &dto.Gauge{Value: v}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, s := range Values() {
		if _, err := expfmt.MetricFamilyToText(w, s.toMetricFamily()); err != nil {
			return err
		}
	}
	return nil
}
