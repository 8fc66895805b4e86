package harvest

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/url"

	"github.com/hazyhaar/recolte/extract"
	"github.com/hazyhaar/recolte/fetch"
)

// ErrorKind buckets a per-link failure for the record note and the run log.
// Dedup skips are not errors and never reach this classification.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindParse      ErrorKind = "parse"
	KindIO         ErrorKind = "io"
	KindUnknown    ErrorKind = "unknown"
)

// classifyError maps an error from materialization to its kind.
func classifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case fetch.IsStatus(err):
		return KindHTTPStatus
	case errors.Is(err, extract.ErrParse):
		return KindParse
	case isNetworkErr(err):
		return KindNetwork
	case isIOErr(err):
		return KindIO
	default:
		return KindUnknown
	}
}

func isNetworkErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isIOErr(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe)
}
