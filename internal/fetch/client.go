// Package fetch provides read-only clients for the ledger node and the
// auxiliary relational store.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/ledger-sampler/internal/config"
	"github.com/yourorg/ledger-sampler/internal/model"
)

// rpcCaller is the subset of *rpc.Client the ledger client relies on
type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

// newRetryClient creates an HTTP client with bounded transport retries
func newRetryClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// newWebsocketDialer sizes buffers for large storage pages
func newWebsocketDialer(timeout time.Duration) websocket.Dialer {
	return websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		ReadBufferSize:   1 << 16,
		WriteBufferSize:  1 << 14,
	}
}

// newLimiter returns nil when rate limiting is disabled
func newLimiter(cfg config.LedgerConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// DialLedger opens the persistent connection to the ledger node and verifies
// it by resolving the finalized head.
func DialLedger(ctx context.Context, cfg config.LedgerConfig) (*LedgerClient, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := rpc.DialOptions(dialCtx, cfg.Endpoint,
		rpc.WithHTTPClient(newRetryClient(cfg.HTTPRetryMax).StandardClient()),
		rpc.WithWebsocketDialer(newWebsocketDialer(timeout)),
	)
	if err != nil {
		return nil, &ConnectionError{Target: "ledger", Err: err}
	}

	lc := newLedgerClient(client, cfg)
	head, err := lc.finalizedHead(dialCtx)
	if err != nil {
		client.Close()
		return nil, &ConnectionError{Target: "ledger", Err: err}
	}

	lc.log.WithField("finalized_head", head).Info("Connected to ledger node")
	return lc, nil
}

func newLedgerClient(caller rpcCaller, cfg config.LedgerConfig) *LedgerClient {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.MaxPageSize
	}
	addrLen := cfg.AccountIDLength
	if addrLen <= 0 {
		addrLen = model.AddressLength
	}
	return &LedgerClient{
		caller:   caller,
		limiter:  newLimiter(cfg),
		pageSize: pageSize,
		addrLen:  addrLen,
		log:      logrus.WithFields(logrus.Fields{"component": "ledger", "endpoint": cfg.Endpoint}),
	}
}
