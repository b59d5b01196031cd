package dicom

import (
	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/medvol/internal/logger"
)

// Tolerances used when comparing geometry across slices.
const (
	geometryTolerance = 1e-4
	spacingTolerance  = 1e-3
)

// Backend decodes DICOM files with github.com/suyashkumar/dicom.
type Backend struct {
	logger log.FieldLogger
}

// NewBackend returns a Backend logging to l. A nil logger discards output.
func NewBackend(l log.FieldLogger) *Backend {
	return &Backend{logger: logger.OrDiscard(l)}
}
