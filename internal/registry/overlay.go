package registry

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Overlay is an externally supplied extension of the built-in tables.
// JSON documents decode as well as YAML ones.
//
//	biomarker_patterns:  {name: [pattern, ...]}
//	clinical_ranges:     {name: {label: [low, high], ...}}
//	plausibility_ranges: {name: [min, max]}
//	unit_patterns:       {name: pattern}
//	ocr_language_hints:  [code, ...]
//
// Every key is additive: a provided biomarker replaces that biomarker's
// entry and leaves every other entry alone.
type Overlay struct {
	BiomarkerPatterns  map[string][]string
	ClinicalRanges     map[string][]Bucket
	PlausibilityRanges map[string]Range
	UnitPatterns       map[string]string
	OCRLanguageHints   []string

	// patternOrder keeps the document order of biomarker_patterns keys so
	// new biomarkers are appended deterministically.
	patternOrder []string
}

// UnmarshalYAML decodes the overlay by walking the node tree so that
// bucket order inside clinical_ranges is preserved.
func (o *Overlay) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: top level must be a mapping", ErrInvalidOverlay)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "biomarker_patterns":
			if err := eachPair(value, func(name string, v *yaml.Node) error {
				var list []string
				if err := v.Decode(&list); err != nil {
					return err
				}
				if o.BiomarkerPatterns == nil {
					o.BiomarkerPatterns = make(map[string][]string)
				}
				if _, seen := o.BiomarkerPatterns[name]; !seen {
					o.patternOrder = append(o.patternOrder, name)
				}
				o.BiomarkerPatterns[name] = list
				return nil
			}); err != nil {
				return fmt.Errorf("%w: biomarker_patterns: %v", ErrInvalidOverlay, err)
			}

		case "clinical_ranges":
			if err := eachPair(value, func(name string, v *yaml.Node) error {
				var buckets []Bucket
				err := eachPair(v, func(label string, bounds *yaml.Node) error {
					rng, err := decodePair(bounds)
					if err != nil {
						return fmt.Errorf("%s/%s: %v", name, label, err)
					}
					buckets = append(buckets, Bucket{Label: label, Low: rng.Min, High: rng.Max})
					return nil
				})
				if err != nil {
					return err
				}
				if o.ClinicalRanges == nil {
					o.ClinicalRanges = make(map[string][]Bucket)
				}
				o.ClinicalRanges[name] = buckets
				return nil
			}); err != nil {
				return fmt.Errorf("%w: clinical_ranges: %v", ErrInvalidOverlay, err)
			}

		case "plausibility_ranges":
			if err := eachPair(value, func(name string, v *yaml.Node) error {
				rng, err := decodePair(v)
				if err != nil {
					return fmt.Errorf("%s: %v", name, err)
				}
				if o.PlausibilityRanges == nil {
					o.PlausibilityRanges = make(map[string]Range)
				}
				o.PlausibilityRanges[name] = rng
				return nil
			}); err != nil {
				return fmt.Errorf("%w: plausibility_ranges: %v", ErrInvalidOverlay, err)
			}

		case "unit_patterns":
			if err := value.Decode(&o.UnitPatterns); err != nil {
				return fmt.Errorf("%w: unit_patterns: %v", ErrInvalidOverlay, err)
			}

		case "ocr_language_hints":
			if err := value.Decode(&o.OCRLanguageHints); err != nil {
				return fmt.Errorf("%w: ocr_language_hints: %v", ErrInvalidOverlay, err)
			}
		}
	}
	return nil
}

func eachPair(node *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func decodePair(node *yaml.Node) (Range, error) {
	var pair []float64
	if err := node.Decode(&pair); err != nil {
		return Range{}, err
	}
	if len(pair) != 2 {
		return Range{}, fmt.Errorf("line %d: expected [low, high], got %d values", node.Line, len(pair))
	}
	if pair[0] > pair[1] {
		return Range{}, fmt.Errorf("line %d: low %v exceeds high %v", node.Line, pair[0], pair[1])
	}
	return Range{Min: pair[0], Max: pair[1]}, nil
}

// ParseOverlay decodes an overlay document.
func ParseOverlay(data []byte) (*Overlay, error) {
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("ParseOverlay: %w", err)
	}
	return &o, nil
}

// LoadOverlay reads and decodes an overlay file.
func LoadOverlay(path string) (*Overlay, error) {
	const op = "LoadOverlay"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	o, err := ParseOverlay(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, path, err)
	}
	return o, nil
}

// Merge returns a new registry with the overlay applied on top of r.
func (r *Registry) Merge(o *Overlay) (*Registry, error) {
	if o == nil {
		return r, nil
	}
	t := r.src.clone()

	for _, name := range o.patternOrder {
		if _, known := t.Patterns[name]; !known {
			t.Names = append(t.Names, name)
		}
		t.Patterns[name] = append([]string(nil), o.BiomarkerPatterns[name]...)
	}
	for name, buckets := range o.ClinicalRanges {
		t.Clinical[name] = append([]Bucket(nil), buckets...)
	}
	for name, rng := range o.PlausibilityRanges {
		t.Plausibility[name] = rng
	}
	for name, expr := range o.UnitPatterns {
		t.Units[name] = expr
	}
	if len(o.OCRLanguageHints) > 0 {
		t.LanguageHints = append([]string(nil), o.OCRLanguageHints...)
	}

	return build(t)
}

// WithOverlayFile applies the overlay at path to the built-in registry. An
// empty path returns the built-in registry. A missing or invalid overlay is
// logged and ignored.
func WithOverlayFile(path string, log zerolog.Logger) *Registry {
	base := Default()
	if path == "" {
		return base
	}

	o, err := LoadOverlay(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load registry overlay, using built-in tables")
		return base
	}
	merged, err := base.Merge(o)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Registry overlay does not compile, using built-in tables")
		return base
	}

	log.Info().
		Str("path", path).
		Int("biomarkers", len(merged.src.Names)).
		Msg("Registry overlay loaded")
	return merged
}

func (t tables) clone() tables {
	c := tables{
		Names:         append([]string(nil), t.Names...),
		Patterns:      make(map[string][]string, len(t.Patterns)),
		Units:         make(map[string]string, len(t.Units)),
		Conversions:   t.Conversions,
		Plausibility:  make(map[string]Range, len(t.Plausibility)),
		Clinical:      make(map[string][]Bucket, len(t.Clinical)),
		LanguageHints: append([]string(nil), t.LanguageHints...),
	}
	for k, v := range t.Patterns {
		c.Patterns[k] = append([]string(nil), v...)
	}
	for k, v := range t.Units {
		c.Units[k] = v
	}
	for k, v := range t.Plausibility {
		c.Plausibility[k] = v
	}
	for k, v := range t.Clinical {
		c.Clinical[k] = append([]Bucket(nil), v...)
	}
	return c
}
