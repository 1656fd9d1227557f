package chunk

import "context"

// ParserPool bounds the number of live tree-sitter parser instances in
// use at once. Parsers are not safe to share across goroutines, and
// construction is non-trivial, so a small pool of pre-built instances is
// checked out per parse and returned afterward rather than built fresh
// per call.
type ParserPool struct {
	registry *LanguageRegistry
	slots    chan *Parser
}

// defaultPoolSize is the number of parser instances kept warm; spec
// calls for roughly ten.
const defaultPoolSize = 10

// NewParserPool creates a pool of size parsers sharing registry. A
// size <= 0 uses defaultPoolSize.
func NewParserPool(registry *LanguageRegistry, size int) *ParserPool {
	if size <= 0 {
		size = defaultPoolSize
	}
	if registry == nil {
		registry = DefaultRegistry()
	}

	pool := &ParserPool{
		registry: registry,
		slots:    make(chan *Parser, size),
	}
	for i := 0; i < size; i++ {
		pool.slots <- NewParserWithRegistry(registry)
	}
	return pool
}

// Acquire blocks until a parser is available or ctx is cancelled.
func (p *ParserPool) Acquire(ctx context.Context) (*Parser, error) {
	select {
	case parser := <-p.slots:
		return parser, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a parser to the pool. Passing a parser not obtained
// from Acquire is a programmer error; Release drops it silently rather
// than panicking (the pool just runs one slot smaller until the next
// Close/rebuild).
func (p *ParserPool) Release(parser *Parser) {
	if parser == nil {
		return
	}
	select {
	case p.slots <- parser:
	default:
	}
}

// Close releases every parser currently sitting idle in the pool. Parsers
// checked out at the time of Close are closed individually by their
// holder instead (Release after Close just drops them, since the channel
// may already be full or closed callers should stop calling Release).
func (p *ParserPool) Close() {
	for {
		select {
		case parser := <-p.slots:
			parser.Close()
		default:
			return
		}
	}
}

// Size reports the pool's configured capacity.
func (p *ParserPool) Size() int {
	return cap(p.slots)
}
