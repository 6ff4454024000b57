package sriclient

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"sri-emisor-go/models"
)

// persister writes comprobante artifacts under comprobantes/<estado>/ by
// access key, serializing writes per access key (spec.md §5: "within a
// single access key, state-transition writes are serialized") and writing
// tmp+rename so a cancelled write never leaves a half-written file
// (spec.md §5, §8 property 7).
type persister struct {
	baseDir string
	locks   sync.Map // claveAcceso -> *sync.Mutex
}

func newPersister(baseDir string) *persister {
	return &persister{baseDir: baseDir}
}

func (p *persister) lockFor(claveAcceso string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(claveAcceso, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// write persists data under comprobantes/<state>/<claveAcceso>_<ts>.xml.
func (p *persister) write(state models.ComprobanteState, claveAcceso string, data []byte, ts time.Time) (string, error) {
	mu := p.lockFor(claveAcceso)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Join(p.baseDir, string(state))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := claveAcceso + "_" + ts.Format("20060102-150405") + ".xml"
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return final, nil
}
