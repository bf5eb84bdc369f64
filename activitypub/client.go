package activitypub

import (
	"context"
	"crypto"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/tube/internal/httpsig"
	"golang.org/x/time/rate"
)

const (
	acceptActivity = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	contentType    = `application/activity+json`
)

// Signer represents an object that can sign HTTP requests.
type Signer interface {
	PublicKeyID() string
	PrivKey() (*rsa.PrivateKey, error)
}

// ClientOptions are shared by every Client.
type ClientOptions struct {
	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration
	// Limiter paces outbound requests. Nil means unlimited.
	Limiter *rate.Limiter
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client is an ActivityPub client which signs its requests as one actor.
type Client struct {
	keyID      string
	privateKey crypto.PrivateKey
	opts       ClientOptions
}

// NewClient returns a new ActivityPub client signing as signAs.
func NewClient(signAs Signer, opts ClientOptions) (*Client, error) {
	privateKey, err := signAs.PrivKey()
	if err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	return &Client{
		keyID:      signAs.PublicKeyID(),
		privateKey: privateKey,
		opts:       opts,
	}, nil
}

// Fetch fetches the ActivityPub resource at the given URL and decodes it into the given object.
func (c *Client) Fetch(ctx context.Context, uri string, obj any) error {
	ctx, cancel, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return requests.URL(uri).
		Accept(acceptActivity).
		Transport(c.transport(nil)).
		CheckContentType(
			"application/ld+json",
			"application/activity+json",
			"application/json",
			"application/octet-stream", // sigh
		).
		CheckStatus(http.StatusOK).
		ToJSON(obj).
		Fetch(ctx)
}

// Post delivers body to inbox.
func (c *Client) Post(ctx context.Context, inbox string, body []byte) error {
	ctx, cancel, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return requests.URL(inbox).
		BodyBytes(body).
		ContentType(contentType).
		Transport(c.transport(body)).
		CheckStatus(http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent).
		Fetch(ctx)
}

func (c *Client) prepare(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if c.opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (c *Client) transport(body []byte) http.RoundTripper {
	return requests.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if err := httpsig.Sign(req, c.keyID, c.privateKey, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		return c.opts.Transport.RoundTrip(req)
	})
}
