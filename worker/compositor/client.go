package compositor

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/nci/stacomp/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const DefaultConcLimit = 4

// Client sends jobs to a set of worker nodes in round-robin order.
type Client struct {
	clients []CompositorClient
	conns   []*grpc.ClientConn
	next    uint32
	limit   int
	logger  *zap.Logger
}

// Dial connects to every worker node. Unreachable nodes are skipped.
func Dial(workerNodes []string, maxRecvMsgSize int, logger *zap.Logger) (*Client, error) {
	logger = utils.OrNop(logger)
	if maxRecvMsgSize <= 0 {
		maxRecvMsgSize = utils.DefaultRecvMsgSize
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
	}

	var conns []*grpc.ClientConn
	for _, worker := range workerNodes {
		conn, err := grpc.Dial(worker, opts...)
		if err != nil {
			logger.Warn("gRPC connection problem", zap.String("worker", worker), zap.Error(err))
			continue
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("No worker node available out of %d", len(workerNodes))
	}

	clients := make([]grpc.ClientConnInterface, len(conns))
	for i, conn := range conns {
		clients[i] = conn
	}
	c := NewClient(logger, clients...)
	c.conns = conns
	return c, nil
}

// NewClient wraps existing connections.
func NewClient(logger *zap.Logger, conns ...grpc.ClientConnInterface) *Client {
	c := &Client{
		limit:  DefaultConcLimit * len(conns),
		logger: utils.OrNop(logger),
	}
	for _, conn := range conns {
		c.clients = append(c.clients, NewCompositorClient(conn))
	}
	if len(conns) > 0 {
		c.next = uint32(rand.Intn(len(conns)))
	}
	return c
}

func (c *Client) Close() error {
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) pick() CompositorClient {
	n := atomic.AddUint32(&c.next, 1)
	return c.clients[int(n)%len(c.clients)]
}

// Composite runs job on the next worker node.
func (c *Client) Composite(ctx context.Context, job *Job) (*Result, error) {
	if len(c.clients) == 0 {
		return nil, fmt.Errorf("No worker node configured")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	in, err := job.ToStruct()
	if err != nil {
		return nil, err
	}
	out, err := c.pick().Composite(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	return ResultFromStruct(out)
}

// CompositeAll fans jobs out over the worker nodes and returns the
// results in job order. The first error cancels the remaining jobs.
func (c *Client) CompositeAll(ctx context.Context, jobs []*Job) ([]*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := NewConcLimiter(c.limit)
	results := make([]*Result, len(jobs))
	errChan := make(chan error, len(jobs))

	for i, job := range jobs {
		if err := limiter.Increase(ctx); err != nil {
			errChan <- err
			break
		}
		go func(i int, job *Job) {
			defer limiter.Decrease()
			res, err := c.Composite(ctx, job)
			if err != nil {
				errChan <- err
				cancel()
				return
			}
			results[i] = res
			c.logger.Info("job done", zap.String("job", job.ID), zap.Int("index", i), zap.Int("total", len(jobs)))
		}(i, job)
	}
	limiter.Wait()

	select {
	case err := <-errChan:
		return nil, err
	default:
	}
	return results, nil
}
