package migrate

import (
	"errors"
	"fmt"

	"github.com/sells-group/crm-migrate/internal/model"
)

// PrecursorError reports a phase started before the mappings it depends on
// exist. The phase performs no writes when this is returned.
type PrecursorError struct {
	Phase  model.Phase
	Needed model.EntityKind
}

func (e *PrecursorError) Error() string {
	return fmt.Sprintf("phase %s requires %s mappings; run the earlier phases first", e.Phase, e.Needed)
}

// IsPrecursor reports whether err is a missing-precursor failure.
func IsPrecursor(err error) bool {
	var pe *PrecursorError
	return errors.As(err, &pe)
}
