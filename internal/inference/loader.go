package inference

import (
	"errors"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/session"
)

// Loader opens a model through a registered backend and binds a session and
// generator to it.
type Loader struct {
	Backend string
	Params  backend.ContextParams
	Log     logger.Logger
}

type LoadResult struct {
	Model     backend.Model
	Session   *session.Session
	Generator *Generator
}

// Load fails with *backend.ModelLoadError or *backend.ContextInitError.
func (l Loader) Load(modelPath string) (*LoadResult, error) {
	log := l.Log
	if log == nil {
		log = logger.Nop()
	}
	loader, err := backend.Open(l.Backend)
	if err != nil {
		return nil, err
	}
	m, err := loader.Load(modelPath)
	if err != nil {
		var loadErr *backend.ModelLoadError
		if errors.As(err, &loadErr) {
			return nil, err
		}
		return nil, &backend.ModelLoadError{Path: modelPath, Err: err}
	}

	sess, err := session.New(m, l.Params, log)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return &LoadResult{
		Model:     m,
		Session:   sess,
		Generator: NewGenerator(sess, log),
	}, nil
}

// Close releases the session and then the model.
func (r *LoadResult) Close() error {
	return errors.Join(r.Session.Close(), r.Model.Close())
}
