package manifest

import "fmt"

// MalformedRecordError reports a line that does not match the
// requirements grammar.
type MalformedRecordError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("line %d: malformed record %q: %s", e.Line, e.Text, e.Reason)
}

// DuplicateRecordError reports a package declared more than once.
// Names are compared after normalization.
type DuplicateRecordError struct {
	Name   string
	First  int
	Second int
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("package %s declared on line %d and again on line %d", e.Name, e.First, e.Second)
}
