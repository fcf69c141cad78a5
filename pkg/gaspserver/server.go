// Package gaspserver exposes an Engine's peer-facing operations over
// HTTP using github.com/gofiber/fiber/v2. Each route corresponds to one
// gasp.Remote method, so a peer can reach this server through
// pkg/gasp/httpremote.Client.
package gaspserver

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gookit/slog"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/bsv-blockchain/gasp-sync/pkg/gasp"
	"github.com/bsv-blockchain/gasp-sync/pkg/gasp/httpremote"
)

// Server wires an *gasp.Engine (one per topic) into a Fiber app.
type Server struct {
	App        *fiber.App
	AdminToken string

	engines map[string]*gasp.Engine
}

// New constructs a Server with no topics registered yet. adminToken
// protects the /admin group; an empty token disables the admin group.
func New(adminToken string) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{App: app, AdminToken: adminToken, engines: make(map[string]*gasp.Engine)}
	s.routes()
	return s
}

// Register binds an Engine to a topic. An empty topic is the default
// engine, used when a request carries no X-BSV-Topic header.
func (s *Server) Register(topic string, engine *gasp.Engine) {
	s.engines[topic] = engine
}

func (s *Server) engineFor(c *fiber.Ctx) (*gasp.Engine, error) {
	topic := c.Get("X-BSV-Topic")
	engine, ok := s.engines[topic]
	if !ok {
		return nil, errors.New("gaspserver: unknown topic " + topic)
	}
	return engine, nil
}

func (s *Server) routes() {
	g := s.App.Group("/gasp")
	g.Post("/initial-response", s.handleInitialResponse)
	g.Post("/initial-reply", s.handleInitialReply)
	g.Post("/request-node", s.handleRequestNode)
	g.Post("/submit-node", s.handleSubmitNode)

	admin := s.App.Group("/admin", s.adminAuth)
	admin.Post("/start-sync", s.handleStartSync)
}

// adminAuth is a Fiber middleware checking the Authorization header for
// a valid Bearer token.
func (s *Server) adminAuth(c *fiber.Ctx) error {
	if s.AdminToken == "" {
		return fiber.NewError(fiber.StatusForbidden, "admin routes disabled")
	}
	auth := c.Get("Authorization")
	if auth != "Bearer "+s.AdminToken {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or missing admin bearer token")
	}
	return c.Next()
}

type startSyncBody struct {
	PeerBaseURL string `json:"peerBaseUrl"`
	PeerTopic   string `json:"peerTopic"`
}

// handleStartSync triggers one immediate Sync against a peer for the
// topic's engine.
func (s *Server) handleStartSync(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	body := &startSyncBody{}
	if err := c.BodyParser(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	engine.SetRemote(httpremote.New(body.PeerBaseURL, body.PeerTopic))
	if err := engine.Sync(c.Context()); err != nil {
		return writeEngineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleInitialResponse(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	req := &gasp.InitialRequest{}
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	resp, err := engine.GetInitialResponse(c.Context(), req)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) handleInitialReply(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	resp := &gasp.InitialResponse{}
	if err := c.BodyParser(resp); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	reply, err := engine.GetInitialReply(c.Context(), resp)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(reply)
}

type requestNodeBody struct {
	GraphID     *transaction.Outpoint `json:"graphID"`
	Txid        string                `json:"txid"`
	OutputIndex uint32                `json:"outputIndex"`
	Metadata    bool                  `json:"metadata"`
}

func (s *Server) handleRequestNode(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	body := &requestNodeBody{}
	if err := c.BodyParser(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	txid, err := chainhash.NewHashFromHex(body.Txid)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	outpoint := &transaction.Outpoint{Txid: *txid, Index: body.OutputIndex}
	node, err := engine.RequestNode(c.Context(), body.GraphID, outpoint, body.Metadata)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(node)
}

func (s *Server) handleSubmitNode(c *fiber.Ctx) error {
	engine, err := s.engineFor(c)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	node := &gasp.Node{}
	if err := c.BodyParser(node); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	resp, err := engine.SubmitNode(c.Context(), node)
	if err != nil {
		return writeEngineError(c, err)
	}
	if resp == nil {
		resp = &gasp.NodeResponse{}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// versionMismatchBody is the JSON shape written for a 409 response, so
// that httpremote.Client can reconstruct the typed *gasp.VersionMismatchError
// instead of seeing an opaque transport error.
type versionMismatchBody struct {
	Error          string `json:"error"`
	CurrentVersion int    `json:"currentVersion"`
	ForeignVersion int    `json:"foreignVersion"`
}

func writeEngineError(c *fiber.Ctx, err error) error {
	slog.Errorf("gaspserver: %v", err)
	var mismatch *gasp.VersionMismatchError
	if errors.As(err, &mismatch) {
		return c.Status(fiber.StatusConflict).JSON(versionMismatchBody{
			Error:          err.Error(),
			CurrentVersion: mismatch.CurrentVersion,
			ForeignVersion: mismatch.ForeignVersion,
		})
	}
	if errors.Is(err, gasp.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
