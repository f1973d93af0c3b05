package blockchain

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

// Pool is the fixed set of interchangeable endpoints built at startup.
// It is never mutated after construction.
type Pool struct {
	clients []models.NetworkClient
}

var _ models.NetworkPool = (*Pool)(nil)

func NewPool(clients ...models.NetworkClient) (*Pool, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("endpoint pool requires at least one client")
	}
	return &Pool{clients: append([]models.NetworkClient(nil), clients...)}, nil
}

// DialPool connects to every URL. Any failure closes the clients opened so far.
func DialPool(ctx context.Context, urls []string, submitMethod string, logger *logger.Logger) (*Pool, error) {
	clients := make([]models.NetworkClient, 0, len(urls))
	for _, u := range urls {
		client, err := DialKaia(ctx, u, submitMethod, logger)
		if err != nil {
			closeAll(clients)
			return nil, err
		}
		logger.Infow("Connected to network endpoint", "endpoint", client.Endpoint())
		clients = append(clients, client)
	}
	return NewPool(clients...)
}

// Select draws an endpoint uniformly at random.
func (p *Pool) Select() models.NetworkClient {
	return p.clients[rand.Intn(len(p.clients))]
}

func (p *Pool) Size() int {
	return len(p.clients)
}

func (p *Pool) Close() {
	closeAll(p.clients)
}

func closeAll(clients []models.NetworkClient) {
	for _, c := range clients {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}
