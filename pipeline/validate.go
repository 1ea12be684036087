package pipeline

import (
	"fmt"
	"strings"
)

const indexCharset = "abcdefghijklmnopqrstuvwxyz0123456789-_"

// NormalizeIndex lowercases idx and validates its charset: a non-empty
// tenant/collection identifier, normalized to lowercase with a limited
// charset.
func NormalizeIndex(idx string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(idx))
	if lower == "" {
		return "", fmt.Errorf("%w: index must not be empty", ErrInvalid)
	}
	for _, r := range lower {
		if !strings.ContainsRune(indexCharset, r) {
			return "", fmt.Errorf("%w: index %q contains invalid character %q", ErrInvalid, idx, r)
		}
	}
	return lower, nil
}

// documentIDRejectedChars are the characters invalid in a documentId.
const documentIDRejectedChars = " /\\:;,~!?@#$%^&*+=\"'`|\t\r\n\v\x00"

// ValidateDocumentID enforces non-empty, charset-limited,
// case-sensitive, not a path.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: documentId must not be empty", ErrInvalid)
	}
	if strings.ContainsAny(id, documentIDRejectedChars) {
		return fmt.Errorf("%w: documentId %q contains a disallowed character", ErrInvalid, id)
	}
	for _, r := range id {
		allowed := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		if !allowed {
			return fmt.Errorf("%w: documentId %q contains disallowed character %q", ErrInvalid, id, r)
		}
	}
	if id == "." || id == ".." || strings.Contains(id, "..") {
		return fmt.Errorf("%w: documentId %q looks like a path", ErrInvalid, id)
	}
	return nil
}

// DeleteIndexStep is the sole step name of a pipeline whose documentId is
// empty.
const DeleteIndexStep = "delete-index"

// Validate enforces the pipeline invariants:
//   - completedSteps ++ remainingSteps == steps, in order
//   - no two consecutive step names equal; none empty
//   - documentId empty iff steps == [DeleteIndexStep]
func (p *DataPipeline) Validate() error {
	if _, err := NormalizeIndex(p.Index); err != nil {
		return err
	}

	if p.DocumentID == "" {
		if len(p.Steps) != 1 || p.Steps[0] != DeleteIndexStep {
			return fmt.Errorf("%w: empty documentId requires steps == [%q]", ErrInvalid, DeleteIndexStep)
		}
	} else if err := ValidateDocumentID(p.DocumentID); err != nil {
		return err
	}

	if p.ExecutionID == "" {
		return fmt.Errorf("%w: executionId must not be empty", ErrInvalid)
	}

	for i, name := range p.Steps {
		if name == "" {
			return fmt.Errorf("%w: step %d has an empty name", ErrInvalid, i)
		}
		if i > 0 && p.Steps[i-1] == name {
			return fmt.Errorf("%w: consecutive duplicate step %q at position %d", ErrInvalid, name, i)
		}
	}

	if len(p.CompletedSteps)+len(p.RemainingSteps) != len(p.Steps) {
		return fmt.Errorf("%w: completedSteps+remainingSteps length != steps length", ErrInvalid)
	}
	for i, name := range p.CompletedSteps {
		if p.Steps[i] != name {
			return fmt.Errorf("%w: completedSteps[%d]=%q does not match steps[%d]=%q", ErrInvalid, i, name, i, p.Steps[i])
		}
	}
	for i, name := range p.RemainingSteps {
		j := len(p.CompletedSteps) + i
		if p.Steps[j] != name {
			return fmt.Errorf("%w: remainingSteps[%d]=%q does not match steps[%d]=%q", ErrInvalid, i, name, j, p.Steps[j])
		}
	}

	return nil
}

// AdvanceStep moves the first remaining step to completedSteps. It returns
// the step name advanced, or "" if there was nothing remaining.
func (p *DataPipeline) AdvanceStep() string {
	if len(p.RemainingSteps) == 0 {
		return ""
	}
	name := p.RemainingSteps[0]
	p.CompletedSteps = append(p.CompletedSteps, name)
	p.RemainingSteps = p.RemainingSteps[1:]
	return name
}

// CurrentStep returns the step name that should run next, or "" if the
// pipeline is complete.
func (p *DataPipeline) CurrentStep() string {
	if len(p.RemainingSteps) == 0 {
		return ""
	}
	return p.RemainingSteps[0]
}
