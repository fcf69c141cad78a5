// Package httpremote is a reference gasp.Remote implementation that
// speaks JSON-over-HTTP to a peer running pkg/gaspserver, using
// github.com/go-resty/resty/v2 as its HTTP client.
package httpremote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/bsv-blockchain/gasp-sync/pkg/gasp"
)

// Client is a gasp.Remote that talks to a single peer over HTTP.
type Client struct {
	BaseURL string
	Topic   string
	HTTP    *resty.Client
}

// New constructs a Client against baseURL, scoped to an optional topic
// (sent as the X-BSV-Topic header; empty means no topic scoping).
func New(baseURL, topic string) *Client {
	return &Client{
		BaseURL: baseURL,
		Topic:   topic,
		HTTP:    resty.New(),
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.HTTP.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if c.Topic != "" {
		req.SetHeader("X-BSV-Topic", c.Topic)
	}
	return req
}

// GetInitialResponse implements gasp.Remote.
func (c *Client) GetInitialResponse(ctx context.Context, req *gasp.InitialRequest) (*gasp.InitialResponse, error) {
	out := &gasp.InitialResponse{}
	resp, err := c.request(ctx).SetBody(req).SetResult(out).Post(c.BaseURL + "/gasp/initial-response")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gasp.ErrTransport, err)
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}
	return out, nil
}

// GetInitialReply implements gasp.Remote.
func (c *Client) GetInitialReply(ctx context.Context, resp *gasp.InitialResponse) (*gasp.InitialReply, error) {
	out := &gasp.InitialReply{}
	httpResp, err := c.request(ctx).SetBody(resp).SetResult(out).Post(c.BaseURL + "/gasp/initial-reply")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gasp.ErrTransport, err)
	}
	if httpResp.IsError() {
		return nil, decodeError(httpResp)
	}
	return out, nil
}

type requestNodeBody struct {
	GraphID     *transaction.Outpoint `json:"graphID"`
	Txid        string                `json:"txid"`
	OutputIndex uint32                `json:"outputIndex"`
	Metadata    bool                  `json:"metadata"`
}

// RequestNode implements gasp.Remote.
func (c *Client) RequestNode(ctx context.Context, graphID, outpoint *transaction.Outpoint, metadata bool) (*gasp.Node, error) {
	body := requestNodeBody{
		GraphID:     graphID,
		Txid:        outpoint.Txid.String(),
		OutputIndex: outpoint.Index,
		Metadata:    metadata,
	}
	out := &gasp.Node{}
	resp, err := c.request(ctx).SetBody(body).SetResult(out).Post(c.BaseURL + "/gasp/request-node")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gasp.ErrTransport, err)
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}
	return out, nil
}

// SubmitNode implements gasp.Remote.
func (c *Client) SubmitNode(ctx context.Context, node *gasp.Node) (*gasp.NodeResponse, error) {
	out := &gasp.NodeResponse{}
	resp, err := c.request(ctx).SetBody(node).SetResult(out).Post(c.BaseURL + "/gasp/submit-node")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gasp.ErrTransport, err)
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}
	if len(out.RequestedInputs) == 0 {
		return nil, nil
	}
	return out, nil
}

// versionMismatchBody mirrors gaspserver's 409 response shape, letting a
// version mismatch surface as a typed *gasp.VersionMismatchError instead
// of collapsing into ErrTransport along with every other failure.
type versionMismatchBody struct {
	CurrentVersion int `json:"currentVersion"`
	ForeignVersion int `json:"foreignVersion"`
}

func decodeError(resp *resty.Response) error {
	if resp.StatusCode() == http.StatusConflict {
		var body versionMismatchBody
		if err := json.Unmarshal(resp.Body(), &body); err == nil && (body.CurrentVersion != 0 || body.ForeignVersion != 0) {
			return &gasp.VersionMismatchError{CurrentVersion: body.CurrentVersion, ForeignVersion: body.ForeignVersion}
		}
	}
	return fmt.Errorf("%w: %s: %s", gasp.ErrTransport, resp.Status(), string(resp.Body()))
}
