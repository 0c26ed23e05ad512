package pipeline

import (
	"fmt"

	"github.com/kchongee/listing-crawler/models"
)

// FatalError ends a run. The checkpoint it carries has already been
// saved; the next run resumes from it.
type FatalError struct {
	Stage      string
	Checkpoint models.Checkpoint
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("stage %q aborted at link %d (%s): %v", e.Stage, e.Checkpoint.LinkIndex, e.Checkpoint.URL, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
