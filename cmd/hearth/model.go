package main

import (
	"context"
	"os"

	"github.com/samcharles93/hearth/internal/backend"
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"

	_ "github.com/samcharles93/hearth/internal/backend/toy"
)

// contextParams builds context parameters from the global flags. A negative
// seed keeps the default.
func contextParams(seed int64) backend.ContextParams {
	p := backend.DefaultContextParams()
	if contextSize > 0 {
		p.ContextSize = int(contextSize)
	}
	if batchSize > 0 {
		p.BatchSize = int(batchSize)
	}
	if threads > 0 {
		p.Threads = int(threads)
	}
	if seed >= 0 {
		p.Seed = uint32(seed)
	}
	return p
}

// openChat resolves the model from the global model flags and loads it into
// a fresh orchestrator.
func openChat(ctx context.Context, seed int64, opts ...chat.Option) (*chat.Orchestrator, error) {
	log := logger.FromContext(ctx)
	path, err := resolveModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, err
	}
	o := chat.New(nil, append([]chat.Option{chat.WithLogger(log)}, opts...)...)
	loader := inference.Loader{
		Backend: backendName,
		Params:  contextParams(seed),
		Log:     log,
	}
	if err := o.Load(loader, path); err != nil {
		return nil, err
	}
	return o, nil
}
