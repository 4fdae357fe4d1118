package manifest

import "errors"

// Validate checks manifest-wide invariants: every package is declared
// at most once. Per-record grammar is already enforced by Parse.
// All violations are reported, joined into a single error.
func (f *File) Validate() error {
	var errs []error

	seen := make(map[string]int)
	for _, record := range f.Records() {
		name := record.Normalized()
		if first, ok := seen[name]; ok {
			errs = append(errs, &DuplicateRecordError{
				Name:   name,
				First:  first,
				Second: record.Line(),
			})
			continue
		}
		seen[name] = record.Line()
	}

	return errors.Join(errs...)
}
