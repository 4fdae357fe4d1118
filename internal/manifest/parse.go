package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

const directivePrefix = "pyup:"

var (
	nameRegex     = regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9._]*[A-Za-z0-9]|[A-Za-z0-9])$`)
	revisionRegex = regexp.MustCompile(`^[0-9a-f]{7,40}$`)
)

// ParseFile parses the requirements file at path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads an ordered requirements file. It fails with
// *MalformedRecordError on the first line that does not match the
// recognized grammar.
func Parse(r io.Reader) (*File, error) {
	file := &File{}
	scanner := bufio.NewScanner(r)

	num := 0
	for scanner.Scan() {
		num++
		raw := scanner.Text()
		line := Line{Number: num, Raw: raw}

		trimmed := strings.TrimSpace(raw)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			record, err := parseRecord(num, trimmed)
			if err != nil {
				return nil, err
			}
			line.Record = record
		}

		file.Lines = append(file.Lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements: %w", err)
	}

	return file, nil
}

func parseRecord(num int, text string) (*Record, error) {
	spec := text
	comment := ""

	// Inline comments need whitespace before the hash, so VCS fragment
	// markers like #egg= are never split here.
	if idx := strings.Index(text, " #"); idx >= 0 {
		spec = strings.TrimSpace(text[:idx])
		comment = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text[idx:]), "#"))
	}

	var record *Record
	var err error
	if strings.HasPrefix(spec, "git+") {
		record, err = parseVCS(num, spec)
	} else {
		record, err = parsePin(num, spec)
	}
	if err != nil {
		return nil, err
	}

	if comment != "" {
		if err := attachComment(num, record, comment); err != nil {
			return nil, err
		}
	}

	record.line = num
	return record, nil
}

func parsePin(num int, spec string) (*Record, error) {
	parts := strings.SplitN(spec, "==", 2)
	if len(parts) != 2 {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "expected name==version"}
	}

	name := strings.TrimSpace(parts[0])
	version := strings.TrimSpace(parts[1])

	var extras []string
	if idx := strings.Index(name, "["); idx >= 0 {
		if !strings.HasSuffix(name, "]") {
			return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "unterminated extras"}
		}
		for _, extra := range strings.Split(name[idx+1:len(name)-1], ",") {
			extra = strings.TrimSpace(extra)
			if extra != "" {
				extras = append(extras, extra)
			}
		}
		name = name[:idx]
	}

	if !nameRegex.MatchString(name) {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: fmt.Sprintf("invalid package name %q", name)}
	}
	if strings.ContainsAny(version, "<>!~*, ") {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "version must be an exact pin"}
	}
	if _, err := pep440.Parse(version); err != nil {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: fmt.Sprintf("invalid version %q", version)}
	}

	return &Record{Name: name, Version: version, Extras: extras}, nil
}

func parseVCS(num int, spec string) (*Record, error) {
	rest := strings.TrimPrefix(spec, "git+")

	urlAndRev, egg, ok := strings.Cut(rest, "#egg=")
	if !ok {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "missing #egg= fragment"}
	}

	url, revision, ok := cutLast(urlAndRev, "@")
	if !ok || revision == "" {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "missing @revision"}
	}
	if !revisionRegex.MatchString(revision) {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "revision must be a commit hash"}
	}

	name, version, ok := strings.Cut(egg, "==")
	if !ok {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: "egg fragment must declare an expected version"}
	}
	if !nameRegex.MatchString(name) {
		return nil, &MalformedRecordError{Line: num, Text: spec, Reason: fmt.Sprintf("invalid package name %q", name)}
	}

	return &Record{
		Name:    name,
		Version: version,
		Source:  &VCSSource{URL: url, Revision: revision},
	}, nil
}

func attachComment(num int, record *Record, comment string) error {
	if !strings.HasPrefix(comment, directivePrefix) {
		record.Rationale = comment
		return nil
	}

	body := strings.TrimSpace(strings.TrimPrefix(comment, directivePrefix))
	if body == "ignore" {
		record.Annotation = &Annotation{Ignore: true}
		return nil
	}

	specs, err := pep440.NewSpecifiers(body)
	if err != nil {
		return &MalformedRecordError{
			Line:   num,
			Text:   comment,
			Reason: fmt.Sprintf("unrecognized directive %q", body),
		}
	}
	record.Annotation = &Annotation{BoundRaw: body, bound: specs}
	return nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
