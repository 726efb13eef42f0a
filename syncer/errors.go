package syncer

import "github.com/pkg/errors"

var (
	errInconsistentHeaders = errors.New("syncer: peer header chain is inconsistent with ours")
	errRequestTimeout      = errors.New("syncer: request to peer timed out")
	errStopped             = errors.New("syncer: stopped during request")
)
