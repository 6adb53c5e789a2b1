// Package service exposes the invoice ingestion pipeline over Connect. The
// messages are plain JSON structs, so no generated stubs are involved.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/payables/internal/matching"
	"github.com/mmynk/payables/internal/middleware"
	"github.com/mmynk/payables/internal/models"
)

const (
	IngestionServiceName = "payables.v1.IngestionService"

	IngestProcedure  = "/" + IngestionServiceName + "/Ingest"
	RematchProcedure = "/" + IngestionServiceName + "/Rematch"
)

type IngestRequest = matching.IngestInput

type IngestResponse struct {
	Document  *models.InvoiceDocument `json:"document"`
	Duplicate bool                    `json:"duplicate"`
}

type RematchRequest struct {
	DocumentID string `json:"document_id"`
}

type RematchResponse struct {
	Document *models.InvoiceDocument `json:"document"`
}

// IngestionService accepts documents from the mailbox and upload pipeline.
type IngestionService struct {
	engine *matching.Engine
}

// NewIngestionService creates a new IngestionService backed by engine.
func NewIngestionService(engine *matching.Engine) *IngestionService {
	return &IngestionService{engine: engine}
}

// Ingest stores a document and queues it for matching. Re-sending a file the
// tenant already has returns the stored document with Duplicate set.
func (s *IngestionService) Ingest(ctx context.Context, req *connect.Request[IngestRequest]) (*connect.Response[IngestResponse], error) {
	actor, ok := middleware.PrincipalFrom(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing principal"))
	}

	doc, duplicate, err := s.engine.Ingest(ctx, actor, *req.Msg)
	if err != nil {
		return nil, connectError(err)
	}
	if duplicate {
		slog.Info("Duplicate document ignored", "document_id", doc.ID, "content_hash", doc.ContentHash)
	}
	return connect.NewResponse(&IngestResponse{Document: doc, Duplicate: duplicate}), nil
}

// Rematch queues an open document for another matching run.
func (s *IngestionService) Rematch(ctx context.Context, req *connect.Request[RematchRequest]) (*connect.Response[RematchResponse], error) {
	actor, ok := middleware.PrincipalFrom(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing principal"))
	}
	if req.Msg.DocumentID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("document_id is required"))
	}

	doc, err := s.engine.Rematch(ctx, actor, req.Msg.DocumentID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&RematchResponse{Document: doc}), nil
}

// NewIngestionServiceHandler builds the HTTP handler for svc and returns the
// path prefix to mount it on.
func NewIngestionServiceHandler(svc *IngestionService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(IngestProcedure, connect.NewUnaryHandler(IngestProcedure, svc.Ingest, opts...))
	mux.Handle(RematchProcedure, connect.NewUnaryHandler(RematchProcedure, svc.Rematch, opts...))
	return "/" + IngestionServiceName + "/", mux
}

// IngestionServiceClient calls an IngestionService over the Connect protocol.
type IngestionServiceClient struct {
	ingest  *connect.Client[IngestRequest, IngestResponse]
	rematch *connect.Client[RematchRequest, RematchResponse]
}

func NewIngestionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *IngestionServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &IngestionServiceClient{
		ingest:  connect.NewClient[IngestRequest, IngestResponse](httpClient, baseURL+IngestProcedure, opts...),
		rematch: connect.NewClient[RematchRequest, RematchResponse](httpClient, baseURL+RematchProcedure, opts...),
	}
}

func (c *IngestionServiceClient) Ingest(ctx context.Context, req *connect.Request[IngestRequest]) (*connect.Response[IngestResponse], error) {
	return c.ingest.CallUnary(ctx, req)
}

func (c *IngestionServiceClient) Rematch(ctx context.Context, req *connect.Request[RematchRequest]) (*connect.Response[RematchResponse], error) {
	return c.rematch.CallUnary(ctx, req)
}
