package manifest

import (
	"bytes"
	"io"
)

// WriteTo serializes the file. Unmodified lines are written back
// verbatim, so parse-then-write reproduces the input.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range f.Lines {
		n, err := io.WriteString(w, line.Raw+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the serialized file.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}

// SetVersion re-pins the named record and regenerates its line,
// preserving any directive or rationale comment. It reports whether
// the record was found.
func (f *File) SetVersion(name, version string) bool {
	want := NormalizeName(name)
	for i := range f.Lines {
		record := f.Lines[i].Record
		if record == nil || record.Normalized() != want {
			continue
		}
		record.Version = version
		f.Lines[i].Raw = record.String()
		return true
	}
	return false
}
