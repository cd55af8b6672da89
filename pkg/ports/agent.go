package ports

import "context"

// ChunkFunc receives each incremental piece of the assistant reply.
// Returning an error aborts the run.
type ChunkFunc func(chunk string) error

// Agent answers user utterances, deciding which tools to call.
type Agent interface {
	// Run answers prompt. When the reply is streamed, every piece is passed to
	// onChunk and the returned text is their concatenation. When the model
	// does not stream, onChunk is never called and the full text is returned.
	Run(ctx context.Context, prompt string, onChunk ChunkFunc) (string, error)
}
