package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectApprovalCreated:
		var p ApprovalCreatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RecordID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("record_id is required"))
		}
	case SubjectApprovalDecided:
		var p ApprovalDecidedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RecordID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("record_id is required"))
		}
		if !p.Status.Valid() {
			return fmt.Errorf("schema validation failed for %s: invalid status %q", subject, p.Status)
		}
	case SubjectApprovalExpired:
		var p ApprovalExpiredPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
