package thresholds

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/vitals/internal/model"
)

// fileFormat is the on-disk override document. Every section is optional;
// anything left out keeps its default. Metric and device keys are matched
// case-insensitively.
//
//	weights:
//	  LCP: 0.35
//	  TTFB: 0.05
//	devices:
//	  mobile:
//	    LCP: {good: 3500, needsImprovement: 6000}
//	outlierCeilings:
//	  CLS: 5
type fileFormat struct {
	Weights         map[string]float64                    `yaml:"weights"`
	Devices         map[string]map[string]boundsOverride `yaml:"devices"`
	OutlierCeilings map[string]float64                    `yaml:"outlierCeilings"`
}

// boundsOverride uses pointers so a partial entry only replaces the fields
// it names. Overriding NeedsImprovement without Ceiling rescales the ceiling.
type boundsOverride struct {
	Good             *float64 `yaml:"good"`
	NeedsImprovement *float64 `yaml:"needsImprovement"`
	Ceiling          *float64 `yaml:"ceiling"`
}

// LoadFile reads YAML overrides from path and merges them onto Default.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("thresholds: read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return t, nil
}

// Parse merges YAML overrides onto Default and validates the result.
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("thresholds: parse yaml: %w", err)
	}

	t := Default().clone()
	for name, w := range f.Weights {
		m, err := model.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("thresholds: weights: %w", err)
		}
		t.weights[m] = w
	}
	for devName, byMetric := range f.Devices {
		d, err := model.ParseDeviceClass(devName)
		if err != nil {
			return nil, fmt.Errorf("thresholds: devices: %w", err)
		}
		for name, o := range byMetric {
			m, err := model.ParseMetric(name)
			if err != nil {
				return nil, fmt.Errorf("thresholds: devices.%s: %w", strings.ToLower(devName), err)
			}
			b := t.bounds[d][m]
			if o.Good != nil {
				b.Good = *o.Good
			}
			if o.NeedsImprovement != nil {
				b.NeedsImprovement = *o.NeedsImprovement
				b.Ceiling = b.NeedsImprovement * 1.5
			}
			if o.Ceiling != nil {
				b.Ceiling = *o.Ceiling
			}
			t.bounds[d][m] = b
		}
	}
	for name, c := range f.OutlierCeilings {
		m, err := model.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("thresholds: outlierCeilings: %w", err)
		}
		t.outlierCeilings[m] = c
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
