// Package metrics emits CloudWatch Embedded Metrics Format (EMF) documents
// from the ingestion Lambdas. Each document is one JSON line on stdout;
// CloudWatch extracts the metrics from the log stream without any API call.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for every ingestion metric.
const Namespace = "SpeechIngestion"

// Metric names emitted by the pipeline.
const (
	NotificationsClaimed   = "NotificationsClaimed"
	NotificationsDiscarded = "NotificationsDiscarded"
	NotificationsDeferred  = "NotificationsDeferred"
	JobsSubmitted          = "JobsSubmitted"
	FilesRequeued          = "FilesRequeued"
	FilesFailed            = "FilesFailed"
	TranscriptsReconciled  = "TranscriptsReconciled"
	ReportFailures         = "ReportFailures"
	InvocationMs           = "InvocationMs"
)

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// sample is one metric's unit and accumulated value.
type sample struct {
	unit  string
	value float64
}

// Recorder collects the dimensions, metrics and properties of one EMF
// document. Not safe for concurrent use; each invocation makes its own.
type Recorder struct {
	namespace  string
	out        io.Writer
	now        func() time.Time
	dimensions map[string]string
	samples    map[string]sample
	properties map[string]any
}

var (
	functionName string
	initOnce     sync.Once
)

func initFunctionName() {
	functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
}

// New creates a Recorder in the SpeechIngestion namespace writing to stdout.
// Inside Lambda the FunctionName dimension is set automatically.
func New() *Recorder {
	return NewWithWriter(Namespace, os.Stdout)
}

// NewWithWriter creates a Recorder for an explicit namespace and sink.
func NewWithWriter(namespace string, out io.Writer) *Recorder {
	initOnce.Do(initFunctionName)
	r := &Recorder{
		namespace:  namespace,
		out:        out,
		now:        time.Now,
		dimensions: map[string]string{},
		samples:    map[string]sample{},
		properties: map[string]any{},
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// Dimension sets a dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric sets a metric value, replacing any earlier one.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.samples[name] = sample{unit: unit, value: value}
	return r
}

// Count adds n to a count metric.
func (r *Recorder) Count(name string, n int) *Recorder {
	s := r.samples[name]
	r.samples[name] = sample{unit: UnitCount, value: s.value + float64(n)}
	return r
}

// Since sets a millisecond metric to the time elapsed since start.
func (r *Recorder) Since(name string, start time.Time) *Recorder {
	return r.Metric(name, float64(r.now().Sub(start).Milliseconds()), UnitMilliseconds)
}

// Property adds a field that is logged but not extracted as a metric.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Value returns the current value of a metric.
func (r *Recorder) Value(name string) float64 { return r.samples[name].value }

// document builds the EMF object. Metric values win over properties and
// dimensions of the same name.
func (r *Recorder) document() map[string]any {
	names := slices.Sorted(maps.Keys(r.samples))
	defs := make([]metricDef, len(names))
	for i, name := range names {
		defs[i] = metricDef{Name: name, Unit: r.samples[name].unit}
	}

	doc := make(map[string]any, 1+len(r.properties)+len(r.dimensions)+len(names))
	maps.Copy(doc, r.properties)
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for _, name := range names {
		doc[name] = r.samples[name].value
	}
	doc["_aws"] = emfDirective{
		Timestamp: r.now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{slices.Sorted(maps.Keys(r.dimensions))},
			Metrics:    defs,
		}},
	}
	return doc
}

// Flush writes the document as one JSON line. Nothing is written when no
// metric was recorded. The Recorder must not be reused afterwards.
func (r *Recorder) Flush() {
	if len(r.samples) == 0 {
		return
	}
	data, err := json.Marshal(r.document())
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "%s\n", data)
}
