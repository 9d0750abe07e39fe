// Package pipeline implements the upload and download worker loops
// (spec.md C5, C6, C7): one dedicated worker goroutine per pipeline
// instance draining a bounded queue.Queue of submitted files.
package pipeline

import "github.com/quantarax/vaultmesh/internal/manifeststore"

// UploadCallback is fired as an upload progresses and once, finally,
// when it finishes (success or failure). Update's percentage is
// monotonically non-decreasing within one file. Close fires exactly
// once per submitted file, even on failure, in which case manifest is
// nil.
type UploadCallback interface {
	Update(percentage int)
	Close(source any, manifest *manifeststore.StoredFile)
}

// DownloadCallback is fired as a download progresses and once, finally,
// when it finishes.
type DownloadCallback interface {
	Update(percentage int)
	Close()
}

// UploadCallbackFuncs adapts two plain functions to the UploadCallback
// interface, for callers that don't want to define a type.
type UploadCallbackFuncs struct {
	OnUpdate func(percentage int)
	OnClose  func(source any, manifest *manifeststore.StoredFile)
}

func (f UploadCallbackFuncs) Update(percentage int) {
	if f.OnUpdate != nil {
		f.OnUpdate(percentage)
	}
}

func (f UploadCallbackFuncs) Close(source any, manifest *manifeststore.StoredFile) {
	if f.OnClose != nil {
		f.OnClose(source, manifest)
	}
}

// DownloadCallbackFuncs adapts two plain functions to the
// DownloadCallback interface.
type DownloadCallbackFuncs struct {
	OnUpdate func(percentage int)
	OnClose  func()
}

func (f DownloadCallbackFuncs) Update(percentage int) {
	if f.OnUpdate != nil {
		f.OnUpdate(percentage)
	}
}

func (f DownloadCallbackFuncs) Close() {
	if f.OnClose != nil {
		f.OnClose()
	}
}

// monotonicProgress clamps percentage reporting to [0,100] and enforces
// the non-decreasing invariant C7 requires.
type monotonicProgress struct {
	last int
}

func (p *monotonicProgress) next(percentage int) int {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	if percentage < p.last {
		percentage = p.last
	}
	p.last = percentage
	return percentage
}
