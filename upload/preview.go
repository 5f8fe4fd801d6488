package upload

import (
	"sync"

	"github.com/google/uuid"
)

const previewScheme = "preview://"

// Previews hands out revocable local references to a file being uploaded so
// the placeholder can show it before a remote URL exists.
type Previews interface {
	Create(src Source) (string, error)
	Revoke(ref string)
}

// PreviewRegistry is the in-memory Previews used by the terminal client.
// Every reference must be revoked or the registry grows without bound.
type PreviewRegistry struct {
	mu   sync.Mutex
	refs map[string]string
}

func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{refs: make(map[string]string)}
}

func (p *PreviewRegistry) Create(src Source) (string, error) {
	target := src.Name()
	if fs, ok := src.(interface{ Path() string }); ok {
		target = fs.Path()
	}
	ref := previewScheme + uuid.NewString()

	p.mu.Lock()
	p.refs[ref] = target
	p.mu.Unlock()
	return ref, nil
}

func (p *PreviewRegistry) Revoke(ref string) {
	p.mu.Lock()
	delete(p.refs, ref)
	p.mu.Unlock()
}

// Resolve returns the local path behind a live reference
func (p *PreviewRegistry) Resolve(ref string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.refs[ref]
	return target, ok
}

// Live returns the number of unrevoked references
func (p *PreviewRegistry) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refs)
}
